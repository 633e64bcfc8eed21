package dedupe_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	dedupe "github.com/okian/draftwatch/internal/domain/dedupe"
	"github.com/okian/draftwatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func key(n int) string { return fmt.Sprintf("s-1/%d/p%d", n, n%12) }

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When recording a new key", func() {
			d := dedupe.NewInMemoryDeduper()
			seen := d.SeenAndRecord(ctx, key(1))

			Convey("Then it should return false and record the key", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When recording the same key twice", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, key(1))
			seen := d.SeenAndRecord(ctx, key(1))

			Convey("Then the second call reports it as seen", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a key is unrecorded", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, key(1))
			d.Unrecord(ctx, key(1))
			d.Unrecord(ctx, key(99))

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key(1)), ShouldBeFalse)
			})
		})

		Convey("When the bounded deduper is at capacity", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 3; i++ {
				d.SeenAndRecord(ctx, key(i))
			}
			d.SeenAndRecord(ctx, key(4))

			Convey("Then the oldest key is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, key(2)), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, key(3)), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, key(4)), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, key(1)), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded key is recorded again before its slot is reused", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, key(1))
			d.Unrecord(ctx, key(1))
			d.SeenAndRecord(ctx, key(2))
			d.SeenAndRecord(ctx, key(1))

			Convey("Then reusing the stale slot does not evict the live key", func() {
				So(d.SeenAndRecord(ctx, key(1)), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 2)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(-1))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, key(i))
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, key(0)), ShouldBeTrue)
			})
		})
	})
}

func TestSeenPick(t *testing.T) {
	Convey("Given picks that differ only in participant", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		a := model.PickEvent{SessionID: "s-1", PickNumber: 4, ParticipantID: "alice"}
		b := model.PickEvent{SessionID: "s-1", PickNumber: 4, ParticipantID: "bob"}

		Convey("Then each identity triple is tracked separately", func() {
			So(dedupe.SeenPick(ctx, d, &a), ShouldBeFalse)
			So(dedupe.SeenPick(ctx, d, &b), ShouldBeFalse)
			So(dedupe.SeenPick(ctx, d, &a), ShouldBeTrue)
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given a deduper with concurrent access", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000))

		Convey("When goroutines race to record the same keys", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 500; i++ {
						if !d.SeenAndRecord(ctx, key(i)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then each key is reported new exactly once", func() {
				So(fresh, ShouldEqual, 500)
				So(d.Size(), ShouldEqual, 500)
			})
		})
	})
}

func TestDedupeEdgeCases(t *testing.T) {
	Convey("Given a small bounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))

		Convey("When recording the empty key and a very long key", func() {
			long := strings.Repeat("x", 10000)
			So(d.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, long), ShouldBeFalse)

			Convey("Then both are tracked", func() {
				So(d.SeenAndRecord(ctx, ""), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, long), ShouldBeTrue)
			})
		})
	})
}
