package consensus_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given consensus CSV input", t, func() {
		Convey("When it has a header naming the columns", func() {
			table, err := consensus.Parse(strings.NewReader(
				"name,position,rank\n# projections\nJa'Marr Chase,WR,1\nBijan Robinson,RB,2.5\n"))

			Convey("Then the named columns are used", func() {
				So(err, ShouldBeNil)
				So(table, ShouldHaveLength, 2)
				So(table["Ja'Marr Chase"], ShouldEqual, 1)
				So(table["Bijan Robinson"], ShouldEqual, 2.5)
			})
		})

		Convey("When it has no header", func() {
			table, err := consensus.Parse(strings.NewReader("item-1,4\nitem-2, 9\n"))

			Convey("Then the first two columns are used", func() {
				So(err, ShouldBeNil)
				So(table.Rank("item-2", 200), ShouldEqual, 9)
			})
		})

		Convey("When a rank is not a positive number", func() {
			_, err := consensus.Parse(strings.NewReader("item-1,soon\n"))
			So(errors.Is(err, consensus.ErrBadRecord), ShouldBeTrue)

			_, err = consensus.Parse(strings.NewReader("item-1,0\n"))
			So(errors.Is(err, consensus.ErrBadRecord), ShouldBeTrue)
		})

		Convey("When it holds only a header", func() {
			_, err := consensus.Parse(strings.NewReader("item_id,expected_rank\n"))
			So(errors.Is(err, consensus.ErrEmptyTable), ShouldBeTrue)
		})
	})
}

func TestTableRank(t *testing.T) {
	Convey("Given a table", t, func() {
		table := consensus.Table{"a": 3}

		Convey("Then unknown items fall back to the default", func() {
			So(table.Rank("a", 200), ShouldEqual, 3)
			So(table.Rank("zzz", 200), ShouldEqual, 200)
		})

		Convey("Then a static provider returns it", func() {
			got, err := consensus.Static(table).Table(context.Background())
			So(err, ShouldBeNil)
			So(got, ShouldResemble, table)
		})
	})
}

func TestFileProvider(t *testing.T) {
	Convey("Given a consensus file on disk", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "consensus.csv")
		So(os.WriteFile(path, []byte("item_id,expected_rank\nitem-1,1\n"), 0o600), ShouldBeNil)

		provider, err := consensus.NewFileProvider(ctx, path, logger.Nop())
		So(err, ShouldBeNil)

		Convey("When the file changes and is refreshed", func() {
			So(os.WriteFile(path, []byte("item_id,expected_rank\nitem-1,7\nitem-2,8\n"), 0o600), ShouldBeNil)
			So(provider.Refresh(ctx), ShouldBeNil)

			Convey("Then the new table is served", func() {
				table, err := provider.Table(ctx)
				So(err, ShouldBeNil)
				So(table["item-1"], ShouldEqual, 7)
				So(table, ShouldHaveLength, 2)
				So(provider.LoadedAt().IsZero(), ShouldBeFalse)
			})
		})

		Convey("When the file becomes invalid", func() {
			So(os.WriteFile(path, []byte("item-1,nope\n"), 0o600), ShouldBeNil)

			Convey("Then refresh fails and the previous table stays", func() {
				So(provider.Refresh(ctx), ShouldNotBeNil)
				table, err := provider.Table(ctx)
				So(err, ShouldBeNil)
				So(table["item-1"], ShouldEqual, 1)
			})
		})

		Convey("When the path does not exist", func() {
			_, err := consensus.NewFileProvider(ctx, filepath.Join(t.TempDir(), "missing.csv"), logger.Nop())
			So(err, ShouldNotBeNil)
		})
	})
}
