package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/report"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 9, 6, 18, 0, 0, 0, time.UTC)

func TestDescribe(t *testing.T) {
	Convey("Given evidence records", t, func() {
		So(report.Describe(model.Evidence{Kind: model.EvidenceFlagBoth, Count: 1}), ShouldEqual,
			"same location and same network on 1 pick")
		So(report.Describe(model.Evidence{Kind: model.EvidenceRepeatedFlags, Count: 1200}), ShouldEqual,
			"flagged repeatedly (1,200 events)")
		So(report.Describe(model.Evidence{Kind: model.EvidenceAsymmetricReach, Participant: "alice", Amount: -33.5}), ShouldEqual,
			"alice reached 33.5 picks early on average while the partner took value")
		So(report.Describe(model.Evidence{Kind: model.EvidenceEgregiousReaches, Participant: "bob", Count: 2}), ShouldEqual,
			"bob made 2 egregious reaches")
		So(report.Describe(model.Evidence{Kind: "mystery"}), ShouldEqual, "mystery")
	})
}

func TestWriteSession(t *testing.T) {
	Convey("Given a scored session", t, func() {
		r := &model.SessionRiskResult{
			SessionID:   "s-1",
			Status:      model.ResultAnalyzed,
			SessionTime: now.Add(-2 * time.Hour),
			MaxScore:    73,
			MeanScore:   73,
			Pairs: []model.PairRiskScore{{
				Pair:           model.PairKey{Low: "alice", High: "bob"},
				LocationScore:  80,
				BehaviorScore:  85,
				BenefitScore:   55,
				CompositeScore: 73,
				Recommendation: model.RecommendReview,
				Evidence:       []model.Evidence{{Kind: model.EvidenceFlagNetwork, Count: 3}},
			}},
		}

		var buf bytes.Buffer
		So(report.WriteSession(&buf, r, now), ShouldBeNil)

		Convey("Then the table names the pair, its scores and its evidence", func() {
			out := buf.String()
			So(out, ShouldContainSubstring, "Session s-1 (analyzed, ended 2 hours ago)")
			So(out, ShouldContainSubstring, "alice / bob")
			So(out, ShouldContainSubstring, "REVIEW")
			So(out, ShouldContainSubstring, "same network address on 3 picks")
		})

		Convey("Then an empty session says so", func() {
			var empty bytes.Buffer
			So(report.WriteSession(&empty, &model.SessionRiskResult{SessionID: "s-2", SessionTime: now}, now), ShouldBeNil)
			So(empty.String(), ShouldContainSubstring, "No pairs flagged.")
		})
	})
}

func TestWriteHistory(t *testing.T) {
	Convey("Given a pair history", t, func() {
		h := &model.PairHistory{
			Pair:                          model.PairKey{Low: "alice", High: "bob"},
			TotalSessionsTogether:         5,
			SessionsWithPhysicalProximity: 4,
			CoLocationRate:                0.8,
			MeanRiskWhenColocated:         65,
			MeanRiskWhenNot:               20,
			RiskDifferential:              45,
			OverallRiskLevel:              model.RiskHigh,
			FirstSessionTogether:          now.Add(-30 * 24 * time.Hour),
			LastSessionTogether:           now.Add(-24 * time.Hour),
			Recent:                        []model.SessionOccurrence{{SessionID: "s-9", Score: 70, Colocated: true, At: now.Add(-24 * time.Hour)}},
		}

		var buf bytes.Buffer
		So(report.WriteHistory(&buf, h, now), ShouldBeNil)

		Convey("Then the summary shows level, rate and recent sessions", func() {
			out := buf.String()
			So(out, ShouldContainSubstring, "Pair alice / bob: HIGH")
			So(out, ShouldContainSubstring, "4 (80%)")
			So(out, ShouldContainSubstring, "s-9")
			So(out, ShouldContainSubstring, "colocated")
		})
	})
}
