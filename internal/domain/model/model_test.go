package model_test

import (
	"testing"
	"time"

	model "github.com/okian/draftwatch/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestPickEvent(t *testing.T) {
	convey.Convey("Given a PickEvent", t, func() {
		ev := model.PickEvent{
			SessionID:     "s-1",
			PickNumber:    12,
			ParticipantID: "alice",
			ItemID:        "item-9",
			Timestamp:     time.Now(),
		}

		convey.Convey("Then its key is the session/pick/participant triple", func() {
			convey.So(ev.Key(), convey.ShouldEqual, "s-1/12/alice")
		})

		convey.Convey("Then it has no location until one is attached", func() {
			convey.So(ev.HasLocation(), convey.ShouldBeFalse)
			ev.Location = &model.Location{Latitude: 40.1, Longitude: -83.0}
			convey.So(ev.HasLocation(), convey.ShouldBeTrue)
		})
	})
}

func TestPairKey(t *testing.T) {
	convey.Convey("Given a pair key", t, func() {
		pair := model.PairKey{Low: "alice", High: "bob"}

		convey.Convey("Then it round-trips through its storage form", func() {
			parsed, ok := model.ParsePairKey(pair.String())
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(parsed, convey.ShouldResemble, pair)
		})

		convey.Convey("Then malformed keys are rejected", func() {
			_, ok := model.ParsePairKey("alice")
			convey.So(ok, convey.ShouldBeFalse)
			_, ok = model.ParsePairKey("|bob")
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("Then Other returns the opposite side", func() {
			convey.So(pair.Other("alice"), convey.ShouldEqual, "bob")
			convey.So(pair.Other("bob"), convey.ShouldEqual, "alice")
			convey.So(pair.Contains("carol"), convey.ShouldBeFalse)
		})
	})
}

func TestFlagKind(t *testing.T) {
	convey.Convey("Given the flag kinds", t, func() {
		convey.So(model.FlagBoth.Physical(), convey.ShouldBeTrue)
		convey.So(model.FlagBoth.Network(), convey.ShouldBeTrue)
		convey.So(model.FlagPhysical.Network(), convey.ShouldBeFalse)
		convey.So(model.FlagNetwork.Physical(), convey.ShouldBeFalse)
		convey.So(model.FlagNone.Valid(), convey.ShouldBeFalse)
	})
}

func TestSessionStateClone(t *testing.T) {
	convey.Convey("Given a session state with a flag", t, func() {
		state := model.NewSessionState("s-1")
		pair := model.PairKey{Low: "a", High: "b"}
		state.Summary.Flags[pair.String()] = &model.ProximityFlag{
			Pair:       pair,
			Kind:       model.FlagNetwork,
			Events:     []model.FlagEvent{{PickNumber: 1}},
			EventCount: 1,
		}
		state.Snapshot.Entries["a"] = model.SnapshotEntry{LastPickNumber: 1}

		convey.Convey("When the clone is mutated", func() {
			clone := state.Clone()
			clone.Summary.Flags[pair.String()].Kind = model.FlagBoth
			clone.Summary.Flags[pair.String()].Events = append(clone.Summary.Flags[pair.String()].Events, model.FlagEvent{PickNumber: 2})
			clone.Snapshot.Entries["b"] = model.SnapshotEntry{LastPickNumber: 2}

			convey.Convey("Then the original is unchanged", func() {
				convey.So(state.Summary.Flag(pair).Kind, convey.ShouldEqual, model.FlagNetwork)
				convey.So(state.Summary.Flag(pair).Events, convey.ShouldHaveLength, 1)
				convey.So(state.Snapshot.Entries, convey.ShouldHaveLength, 1)
			})
		})
	})
}

func TestRiskLevel(t *testing.T) {
	convey.Convey("Given risk levels", t, func() {
		convey.So(model.RiskCritical.Severity(), convey.ShouldBeGreaterThan, model.RiskHigh.Severity())
		convey.So(model.RiskHigh.Severity(), convey.ShouldBeGreaterThan, model.RiskMedium.Severity())
		convey.So(model.RiskMedium.Severity(), convey.ShouldBeGreaterThan, model.RiskLow.Severity())

		level, ok := model.ParseRiskLevel("high")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(level, convey.ShouldEqual, model.RiskHigh)

		_, ok = model.ParseRiskLevel("severe")
		convey.So(ok, convey.ShouldBeFalse)
	})
}
