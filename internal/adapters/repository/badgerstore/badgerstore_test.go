package badgerstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/adapters/repository/badgerstore"
	"github.com/okian/draftwatch/internal/adapters/repository/storetest"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func open(t *testing.T, dir string) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(dir, badgerstore.WithLogger(logger.Nop()))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	return s
}

func TestBadgerStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return open(t, "")
	})
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	Convey("Given a badger store on disk", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		store := open(t, dir)

		state := model.NewSessionState("s-1")
		state.Summary.TotalNetworkEvents = 3
		state.Snapshot.Entries["alice"] = model.SnapshotEntry{LastPickNumber: 4}
		state.Snapshot.ExpiresAt = time.Now().Add(time.Hour)
		So(store.SaveSession(ctx, state), ShouldBeNil)
		So(store.AppendPick(ctx, model.PickEvent{SessionID: "s-1", PickNumber: 4, ParticipantID: "alice"}), ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When it is reopened", func() {
			reopened := open(t, dir)
			Reset(func() { _ = reopened.Close() })

			Convey("Then state and picks are still there", func() {
				loaded, err := reopened.LoadSession(ctx, "s-1")
				So(err, ShouldBeNil)
				So(loaded.Version, ShouldEqual, 1)
				So(loaded.Summary.TotalNetworkEvents, ShouldEqual, 3)
				So(loaded.Snapshot.Entries, ShouldContainKey, "alice")

				picks, err := reopened.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(picks, ShouldHaveLength, 1)
			})
		})
	})
}

func TestBadgerStoreSessionIDsWithSeparators(t *testing.T) {
	Convey("Given sessions whose ids share a prefix", t, func() {
		ctx := context.Background()
		store := open(t, "")
		Reset(func() { _ = store.Close() })

		So(store.AppendPick(ctx, model.PickEvent{SessionID: "a", PickNumber: 1, ParticipantID: "p1"}), ShouldBeNil)
		So(store.AppendPick(ctx, model.PickEvent{SessionID: "a/b", PickNumber: 1, ParticipantID: "p2"}), ShouldBeNil)

		Convey("Then their picks do not leak into each other", func() {
			picks, err := store.ListPicks(ctx, "a")
			So(err, ShouldBeNil)
			So(picks, ShouldHaveLength, 1)
			So(picks[0].ParticipantID, ShouldEqual, "p1")
		})
	})
}
