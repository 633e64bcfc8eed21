// Package report renders scoring results as text for reviewers. The core
// packages only produce structured evidence; wording lives here.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/okian/draftwatch/internal/domain/model"
)

// Describe renders one evidence record.
func Describe(e model.Evidence) string {
	switch e.Kind {
	case model.EvidenceFlagBoth:
		return fmt.Sprintf("same location and same network on %s", times(e.Count))
	case model.EvidenceFlagPhysical:
		return fmt.Sprintf("within proximity range on %s", times(e.Count))
	case model.EvidenceFlagNetwork:
		return fmt.Sprintf("same network address on %s", times(e.Count))
	case model.EvidenceRepeatedFlags:
		return fmt.Sprintf("flagged repeatedly (%s events)", humanize.Comma(int64(e.Count)))
	case model.EvidenceAsymmetricReach:
		return fmt.Sprintf("%s reached %s picks early on average while the partner took value", e.Participant, signed(e.Amount))
	case model.EvidenceMutualDeviation:
		return fmt.Sprintf("both drafted at least %s picks away from consensus on average", humanize.FtoaWithDigits(e.Amount, 1))
	case model.EvidenceEgregiousReaches:
		return fmt.Sprintf("%s made %s egregious reaches", e.Participant, humanize.Comma(int64(e.Count)))
	case model.EvidenceValueTransfer:
		return fmt.Sprintf("%s picks of value followed the partner's reaches", humanize.FtoaWithDigits(e.Amount, 1))
	case model.EvidenceOneSidedBenefit:
		return fmt.Sprintf("%s benefited one-sidedly (imbalance %s)", e.Participant, humanize.FtoaWithDigits(e.Amount, 1))
	case model.EvidenceHeavyValueTransfer:
		return fmt.Sprintf("heavy value transfer (%s picks)", humanize.FtoaWithDigits(e.Amount, 1))
	default:
		return string(e.Kind)
	}
}

func times(n int) string {
	if n == 1 {
		return "1 pick"
	}
	return humanize.Comma(int64(n)) + " picks"
}

func signed(v float64) string {
	if v < 0 {
		v = -v
	}
	return humanize.FtoaWithDigits(v, 1)
}

// WriteSession writes a table of the session's scored pairs.
func WriteSession(w io.Writer, r *model.SessionRiskResult, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Session %s (%s, ended %s)\n", r.SessionID, r.Status, humanize.RelTime(r.SessionTime, now, "ago", "from now"))
	fmt.Fprintf(tw, "Max %d, mean %s, %d at or above monitor\n\n",
		r.MaxScore, humanize.FtoaWithDigits(r.MeanScore, 1), r.CountAboveMonitor)
	if len(r.Pairs) == 0 {
		fmt.Fprintln(tw, "No pairs flagged.")
		return tw.Flush()
	}

	fmt.Fprintln(tw, "PAIR\tLOC\tBEH\tBEN\tSCORE\tACTION\tEVIDENCE")
	for i := range r.Pairs {
		p := &r.Pairs[i]
		reasons := make([]string, 0, len(p.Evidence))
		for _, e := range p.Evidence {
			reasons = append(reasons, Describe(e))
		}
		fmt.Fprintf(tw, "%s / %s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			p.Pair.Low, p.Pair.High,
			p.LocationScore, p.BehaviorScore, p.BenefitScore, p.CompositeScore,
			strings.ToUpper(string(p.Recommendation)), strings.Join(reasons, "; "))
	}
	return tw.Flush()
}

// WriteHistory writes a pair history summary.
func WriteHistory(w io.Writer, h *model.PairHistory, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Pair %s / %s: %s\n", h.Pair.Low, h.Pair.High, strings.ToUpper(string(h.OverallRiskLevel)))
	fmt.Fprintf(tw, "Sessions together\t%s (first %s, last %s)\n",
		humanize.Comma(int64(h.TotalSessionsTogether)),
		humanize.RelTime(h.FirstSessionTogether, now, "ago", "from now"),
		humanize.RelTime(h.LastSessionTogether, now, "ago", "from now"))
	fmt.Fprintf(tw, "Co-located\t%d (%s%%)\n", h.SessionsWithPhysicalProximity, humanize.FtoaWithDigits(h.CoLocationRate*100, 1))
	fmt.Fprintf(tw, "Mean risk colocated / apart\t%s / %s (differential %s)\n",
		humanize.FtoaWithDigits(h.MeanRiskWhenColocated, 1),
		humanize.FtoaWithDigits(h.MeanRiskWhenNot, 1),
		humanize.FtoaWithDigits(h.RiskDifferential, 1))
	for _, o := range h.Recent {
		mark := ""
		if o.Colocated {
			mark = " colocated"
		}
		fmt.Fprintf(tw, "  %s\t%d%s\t%s\n", o.SessionID, o.Score, mark, humanize.RelTime(o.At, now, "ago", "from now"))
	}
	return tw.Flush()
}
