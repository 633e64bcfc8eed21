package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/internal/domain/proximity"
	"github.com/okian/draftwatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2026, 9, 6, 13, 0, 0, 0, time.UTC)

func pick(participant string, number int, ip string) model.PickEvent {
	return model.PickEvent{
		SessionID:      "s-1",
		PickNumber:     number,
		ParticipantID:  participant,
		ItemID:         fmt.Sprintf("item-%d", number),
		Timestamp:      t0.Add(time.Duration(number) * time.Minute),
		Location:       &model.Location{Latitude: 39.9612, Longitude: -82.9988},
		NetworkAddress: ip,
	}
}

func newService(store repository.Store, opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithLogger(logger.Nop()),
		service.WithWorkerCount(2),
		service.WithAggregationSchedule(0, 0),
		service.WithConsensus(consensus.Static{}),
		service.WithClock(func() time.Time { return t0.Add(3 * time.Hour) }),
		service.WithAggregatorOptions(pattern.WithClock(func() time.Time { return t0.Add(24 * time.Hour) })),
	}, opts...)
	return service.New(store, opts...)
}

// eventually polls cond until it holds or a second passes.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServicePipeline(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := newService(store)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("When two participants pick from the same spot and network", func() {
			So(svc.RecordPick(ctx, pick("alice", 1, "203.0.113.7")), ShouldBeNil)
			So(eventually(func() bool {
				state, err := store.LoadSession(ctx, "s-1")
				return err == nil && state.Version > 0
			}), ShouldBeTrue)
			So(svc.RecordPick(ctx, pick("bob", 2, "203.0.113.7")), ShouldBeNil)

			Convey("Then the pair is flagged on both signals", func() {
				So(eventually(func() bool {
					summary, err := svc.GetIntegrity(ctx, "s-1")
					return err == nil && summary.UniqueFlaggedPairs == 1
				}), ShouldBeTrue)
				summary, err := svc.GetIntegrity(ctx, "s-1")
				So(err, ShouldBeNil)
				So(summary.Flag(model.PairKey{Low: "alice", High: "bob"}).Kind, ShouldEqual, model.FlagBoth)
			})

			Convey("Then completing the session scores it in the background", func() {
				So(eventually(func() bool {
					summary, err := svc.GetIntegrity(ctx, "s-1")
					return err == nil && summary.UniqueFlaggedPairs == 1
				}), ShouldBeTrue)

				summary, err := svc.MarkSessionCompleted(ctx, "s-1")
				So(err, ShouldBeNil)
				So(summary.Status, ShouldEqual, model.IntegrityCompleted)
				So(summary.CompletedAt, ShouldEqual, t0.Add(3*time.Hour))

				So(eventually(func() bool {
					r, err := svc.GetRisk(ctx, "s-1")
					return err == nil && r.Status == model.ResultAnalyzed
				}), ShouldBeTrue)
				result, err := svc.GetRisk(ctx, "s-1")
				So(err, ShouldBeNil)
				So(result.Pairs, ShouldHaveLength, 1)
				So(result.Pairs[0].LocationScore, ShouldEqual, 80)

				Convey("And reviewing it marks both ledger and result", func() {
					summary, err := svc.MarkSessionReviewed(ctx, "s-1")
					So(err, ShouldBeNil)
					So(summary.Status, ShouldEqual, model.IntegrityReviewed)
					result, err := svc.GetRisk(ctx, "s-1")
					So(err, ShouldBeNil)
					So(result.Status, ShouldEqual, model.ResultReviewed)
				})
			})
		})

		Convey("When a pick is redelivered", func() {
			ev := pick("alice", 1, "")
			So(svc.RecordPick(ctx, ev), ShouldBeNil)
			So(svc.RecordPick(ctx, ev), ShouldBeNil)

			Convey("Then it is stored once and tracked once", func() {
				picks, err := store.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(picks, ShouldHaveLength, 1)
				So(svc.GetStats().DedupeSize, ShouldEqual, 1)
			})
		})

		Convey("When a pick lacks its identity", func() {
			err := svc.RecordPick(ctx, model.PickEvent{SessionID: "s-1"})

			Convey("Then it is rejected as invalid", func() {
				So(errors.Is(err, service.ErrInvalidPick), ShouldBeTrue)
			})
		})

		Convey("When an active session is reviewed", func() {
			So(svc.RecordPick(ctx, pick("alice", 1, "")), ShouldBeNil)
			So(eventually(func() bool {
				_, err := svc.GetIntegrity(ctx, "s-1")
				return err == nil
			}), ShouldBeTrue)
			_, err := svc.MarkSessionReviewed(ctx, "s-1")

			Convey("Then the transition is refused", func() {
				So(errors.Is(err, proximity.ErrSessionActive), ShouldBeTrue)
			})
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	Convey("Given a service whose workers are not running", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := newService(store, service.WithQueueSize(1))

		Convey("When more picks arrive than the queue holds", func() {
			So(svc.RecordPick(ctx, pick("alice", 1, "")), ShouldBeNil)
			So(svc.RecordPick(ctx, pick("bob", 2, "")), ShouldBeNil)

			Convey("Then every pick is stored and the overflow is only counted", func() {
				picks, err := store.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(picks, ShouldHaveLength, 2)

				stats := svc.GetStats()
				So(stats.Started, ShouldBeFalse)
				So(stats.DroppedPicks, ShouldEqual, 1)
				So(stats.Queues[0].Length, ShouldEqual, 1)
				So(stats.DedupeSize, ShouldEqual, 1)
			})

			Convey("Then a redelivery of the dropped pick can be queued later", func() {
				So(svc.Start(ctx), ShouldBeNil)
				So(eventually(func() bool { return svc.GetStats().Queues[0].Length == 0 }), ShouldBeTrue)
				So(svc.RecordPick(ctx, pick("bob", 2, "")), ShouldBeNil)
				So(svc.GetStats().DedupeSize, ShouldEqual, 2)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})
}

func TestServiceBatch(t *testing.T) {
	Convey("Given completed sessions left pending", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		svc := newService(store)

		for i := 1; i <= 3; i++ {
			sid := fmt.Sprintf("s-%d", i)
			ev := pick("alice", 1, "")
			ev.SessionID = sid
			So(svc.RecordPick(ctx, ev), ShouldBeNil)
			_, err := svc.MarkSessionCompleted(ctx, sid)
			So(err, ShouldBeNil)
			r, err := svc.GetRisk(ctx, sid)
			So(err, ShouldBeNil)
			So(r.Status, ShouldEqual, model.ResultPending)
		}

		Convey("When pending sessions are rescored", func() {
			n, err := svc.RescorePending(ctx)

			Convey("Then each one is analyzed", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 3)
				r, err := svc.GetRisk(ctx, "s-2")
				So(err, ShouldBeNil)
				So(r.Status, ShouldEqual, model.ResultAnalyzed)
			})

			Convey("And aggregation runs with the default lookback", func() {
				summary, err := svc.RunAggregation(ctx, 0)
				So(err, ShouldBeNil)
				So(summary.SessionsScanned, ShouldEqual, 3)
				So(summary.PairsAnalyzed, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an empty session id", t, func() {
		svc := newService(repository.NewMemoryStore())
		_, err := svc.ScoreSession(context.Background(), "")
		So(errors.Is(err, service.ErrInvalidSession), ShouldBeTrue)

		_, err = svc.GetPairHistory(context.Background(), "a", "a")
		So(errors.Is(err, repository.ErrInvalidInput), ShouldBeTrue)
	})
}
