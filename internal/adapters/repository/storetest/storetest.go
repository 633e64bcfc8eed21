// Package storetest holds the behavioural suite every repository.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/draftwatch/internal/adapters/repository"
	"github.com/okian/draftwatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Factory opens an empty store for one test case. The suite closes it.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, 9, 6, 13, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		store := open(t)
		Reset(func() { _ = store.Close() })

		Convey("When loading an unknown session", func() {
			state, err := store.LoadSession(ctx, "s-new")

			Convey("Then a fresh active state at version 0 is returned", func() {
				So(err, ShouldBeNil)
				So(state.Version, ShouldEqual, 0)
				So(state.Summary.Status, ShouldEqual, model.IntegrityActive)
				So(state.Snapshot.Entries, ShouldBeEmpty)
			})

			Convey("Then its summary is not found", func() {
				_, err := store.GetSummary(ctx, "s-new")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When saving a session state", func() {
			state := sampleState("s-1")
			So(store.SaveSession(ctx, state), ShouldBeNil)

			Convey("Then the version is advanced", func() {
				So(state.Version, ShouldEqual, 1)
			})

			Convey("Then it loads back intact", func() {
				loaded, err := store.LoadSession(ctx, "s-1")
				So(err, ShouldBeNil)
				So(loaded.Version, ShouldEqual, 1)
				So(loaded.Snapshot.Entries, ShouldContainKey, "alice")
				So(loaded.Snapshot.Entries["alice"].NetworkAddress, ShouldEqual, "10.0.0.1")
				flag := loaded.Summary.Flag(model.PairKey{Low: "alice", High: "bob"})
				So(flag, ShouldNotBeNil)
				So(flag.Kind, ShouldEqual, model.FlagBoth)
				So(flag.Events, ShouldHaveLength, 1)
				So(*flag.Events[0].DistanceMeters, ShouldAlmostEqual, 9.5, 1e-9)
			})

			Convey("Then a save from a stale version conflicts", func() {
				stale := sampleState("s-1")
				err := store.SaveSession(ctx, stale)
				So(errors.Is(err, repository.ErrConflict), ShouldBeTrue)
				So(stale.Version, ShouldEqual, 0)
			})

			Convey("Then a save from the current version succeeds", func() {
				loaded, err := store.LoadSession(ctx, "s-1")
				So(err, ShouldBeNil)
				loaded.Summary.TotalNetworkEvents++
				So(store.SaveSession(ctx, loaded), ShouldBeNil)
				So(loaded.Version, ShouldEqual, 2)

				summary, err := store.GetSummary(ctx, "s-1")
				So(err, ShouldBeNil)
				So(summary.TotalNetworkEvents, ShouldEqual, 2)
			})

			Convey("Then dropping the snapshot keeps the ledger", func() {
				loaded, err := store.LoadSession(ctx, "s-1")
				So(err, ShouldBeNil)
				loaded.Snapshot = nil
				loaded.Summary.Status = model.IntegrityCompleted
				So(store.SaveSession(ctx, loaded), ShouldBeNil)

				reloaded, err := store.LoadSession(ctx, "s-1")
				So(err, ShouldBeNil)
				So(reloaded.Snapshot.Entries, ShouldBeEmpty)
				So(reloaded.Summary.Status, ShouldEqual, model.IntegrityCompleted)
				So(reloaded.Summary.UniqueFlaggedPairs, ShouldEqual, 1)
			})
		})

		Convey("When a snapshot has already expired", func() {
			state := sampleState("s-exp")
			state.Snapshot.ExpiresAt = time.Now().Add(-time.Minute)
			So(store.SaveSession(ctx, state), ShouldBeNil)

			Convey("Then it loads as empty while the ledger survives", func() {
				loaded, err := store.LoadSession(ctx, "s-exp")
				So(err, ShouldBeNil)
				So(loaded.Snapshot.Entries, ShouldBeEmpty)
				So(loaded.Summary.UniqueFlaggedPairs, ShouldEqual, 1)
			})
		})

		Convey("When appending picks", func() {
			picks := []model.PickEvent{
				{SessionID: "s-1", PickNumber: 3, ParticipantID: "carol", ItemID: "i3", Timestamp: base},
				{SessionID: "s-1", PickNumber: 1, ParticipantID: "alice", ItemID: "i1", Timestamp: base,
					Location: &model.Location{Latitude: 40, Longitude: -83}},
				{SessionID: "s-1", PickNumber: 2, ParticipantID: "bob", ItemID: "i2", Timestamp: base},
				{SessionID: "s-2", PickNumber: 1, ParticipantID: "dave", ItemID: "i9", Timestamp: base},
			}
			for _, p := range picks {
				So(store.AppendPick(ctx, p), ShouldBeNil)
			}

			Convey("Then they are listed per session in pick order", func() {
				listed, err := store.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 3)
				So(listed[0].ParticipantID, ShouldEqual, "alice")
				So(listed[0].Location, ShouldNotBeNil)
				So(listed[1].ParticipantID, ShouldEqual, "bob")
				So(listed[2].ParticipantID, ShouldEqual, "carol")
			})

			Convey("Then re-appending the same pick is a no-op", func() {
				dup := picks[0]
				dup.ItemID = "changed"
				So(store.AppendPick(ctx, dup), ShouldBeNil)
				listed, err := store.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 3)
				So(listed[2].ItemID, ShouldEqual, "i3")
			})

			Convey("Then an unknown session lists nothing", func() {
				listed, err := store.ListPicks(ctx, "s-none")
				So(err, ShouldBeNil)
				So(listed, ShouldBeEmpty)
			})

			Convey("Then a pick without identity is rejected", func() {
				err := store.AppendPick(ctx, model.PickEvent{SessionID: "s-1"})
				So(errors.Is(err, repository.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When storing risk results", func() {
			older := sampleResult("s-old", base.Add(-48*time.Hour), 40)
			newer := sampleResult("s-new", base, 91)
			So(store.PutResult(ctx, older), ShouldBeNil)
			So(store.PutResult(ctx, newer), ShouldBeNil)

			Convey("Then a result loads back", func() {
				got, err := store.GetResult(ctx, "s-new")
				So(err, ShouldBeNil)
				So(got.MaxScore, ShouldEqual, 91)
				So(got.Pairs, ShouldHaveLength, 1)
				So(got.Pairs[0].Evidence, ShouldHaveLength, 1)
				So(got.SessionTime.Equal(base), ShouldBeTrue)
			})

			Convey("Then putting again replaces the result", func() {
				replaced := sampleResult("s-new", base, 12)
				replaced.Status = model.ResultReviewed
				So(store.PutResult(ctx, replaced), ShouldBeNil)
				got, err := store.GetResult(ctx, "s-new")
				So(err, ShouldBeNil)
				So(got.MaxScore, ShouldEqual, 12)
				So(got.Status, ShouldEqual, model.ResultReviewed)
			})

			Convey("Then listing honours the lower time bound", func() {
				all, err := store.ListResults(ctx, time.Time{})
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 2)
				So(all[0].SessionID, ShouldEqual, "s-old")

				recent, err := store.ListResults(ctx, base.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(recent, ShouldHaveLength, 1)
				So(recent[0].SessionID, ShouldEqual, "s-new")
			})

			Convey("Then an unknown result is not found", func() {
				_, err := store.GetResult(ctx, "s-none")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then marking reviewed keeps the scores", func() {
				So(store.MarkResultReviewed(ctx, "s-new"), ShouldBeNil)
				got, err := store.GetResult(ctx, "s-new")
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.ResultReviewed)
				So(got.MaxScore, ShouldEqual, 91)

				err = store.MarkResultReviewed(ctx, "s-none")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then a later write cannot take a result out of review", func() {
				So(store.MarkResultReviewed(ctx, "s-new"), ShouldBeNil)
				rescored := sampleResult("s-new", base, 77)
				So(store.PutResult(ctx, rescored), ShouldBeNil)

				got, err := store.GetResult(ctx, "s-new")
				So(err, ShouldBeNil)
				So(got.MaxScore, ShouldEqual, 77)
				So(got.Status, ShouldEqual, model.ResultReviewed)

				listed, err := store.ListResults(ctx, base.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 1)
				So(listed[0].Status, ShouldEqual, model.ResultReviewed)
			})
		})

		Convey("When storing pair histories", func() {
			low := sampleHistory("a", "b", model.RiskLow, base)
			high := sampleHistory("c", "d", model.RiskHigh, base.Add(-time.Hour))
			critical := sampleHistory("e", "f", model.RiskCritical, base.Add(-2*time.Hour))
			for _, h := range []*model.PairHistory{low, high, critical} {
				So(store.PutHistory(ctx, h), ShouldBeNil)
			}

			Convey("Then a history loads back", func() {
				got, err := store.GetHistory(ctx, model.PairKey{Low: "c", High: "d"})
				So(err, ShouldBeNil)
				So(got.OverallRiskLevel, ShouldEqual, model.RiskHigh)
				So(got.Recent, ShouldHaveLength, 1)
			})

			Convey("Then listing filters by level, most severe first", func() {
				listed, err := store.ListHistories(ctx, model.RiskHigh)
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 2)
				So(listed[0].OverallRiskLevel, ShouldEqual, model.RiskCritical)
				So(listed[1].OverallRiskLevel, ShouldEqual, model.RiskHigh)

				everything, err := store.ListHistories(ctx, "")
				So(err, ShouldBeNil)
				So(everything, ShouldHaveLength, 3)
			})

			Convey("Then putting again replaces the history", func() {
				downgraded := sampleHistory("e", "f", model.RiskMedium, base)
				So(store.PutHistory(ctx, downgraded), ShouldBeNil)
				got, err := store.GetHistory(ctx, model.PairKey{Low: "e", High: "f"})
				So(err, ShouldBeNil)
				So(got.OverallRiskLevel, ShouldEqual, model.RiskMedium)
			})

			Convey("Then an unknown pair is not found", func() {
				_, err := store.GetHistory(ctx, model.PairKey{Low: "x", High: "y"})
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then deleting removes a history and ignores unknown pairs", func() {
				So(store.DeleteHistory(ctx, model.PairKey{Low: "c", High: "d"}), ShouldBeNil)
				So(store.DeleteHistory(ctx, model.PairKey{Low: "x", High: "y"}), ShouldBeNil)

				_, err := store.GetHistory(ctx, model.PairKey{Low: "c", High: "d"})
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				listed, err := store.ListHistories(ctx, model.RiskHigh)
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 1)
				So(listed[0].Pair, ShouldResemble, model.PairKey{Low: "e", High: "f"})
			})
		})
	})
}

func sampleState(sessionID string) *model.SessionState {
	state := model.NewSessionState(sessionID)
	state.Snapshot.Entries["alice"] = model.SnapshotEntry{
		Latitude: 40.0, Longitude: -83.0, HasLocation: true,
		NetworkAddress: "10.0.0.1", LastPickNumber: 2, Timestamp: base,
	}
	state.Snapshot.ExpiresAt = time.Now().Add(time.Hour)
	distance := 9.5
	pair := model.PairKey{Low: "alice", High: "bob"}
	state.Summary.Flags[pair.String()] = &model.ProximityFlag{
		Pair: pair,
		Kind: model.FlagBoth,
		Events: []model.FlagEvent{{
			PickNumber: 2, SubmittingParticipantID: "alice", OtherParticipantID: "bob",
			Kind: model.FlagBoth, DistanceMeters: &distance, Timestamp: base,
		}},
		FirstDetected: base,
		LastDetected:  base,
		EventCount:    1,
	}
	state.Summary.TotalPhysicalEvents = 1
	state.Summary.TotalNetworkEvents = 1
	state.Summary.UniqueFlaggedPairs = 1
	return state
}

func sampleResult(sessionID string, at time.Time, score int) *model.SessionRiskResult {
	return &model.SessionRiskResult{
		SessionID: sessionID,
		Pairs: []model.PairRiskScore{{
			Pair:           model.PairKey{Low: "alice", High: "bob"},
			LocationScore:  80,
			CompositeScore: score,
			Evidence:       []model.Evidence{{Kind: model.EvidenceFlagBoth, Count: 1}},
			Recommendation: model.RecommendMonitor,
		}},
		MaxScore:    score,
		MeanScore:   float64(score),
		Status:      model.ResultAnalyzed,
		SessionTime: at,
	}
}

func sampleHistory(a, b string, level model.RiskLevel, last time.Time) *model.PairHistory {
	return &model.PairHistory{
		Pair:                  model.PairKey{Low: a, High: b},
		TotalSessionsTogether: 1,
		Recent:                []model.SessionOccurrence{{SessionID: "s-1", Score: 50, At: last}},
		OverallRiskLevel:      level,
		FirstSessionTogether:  last,
		LastSessionTogether:   last,
		LastAnalyzed:          base,
	}
}
