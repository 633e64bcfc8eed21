// Package simulate synthesizes a snake draft in which one pair colludes, runs
// it through the pipeline and reports what the scorer found.
package simulate

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/model"
)

// Draft shape constants.
const (
	extraItems      = 60   // undrafted depth so reaches have targets
	gemPenalty      = 40.0 // how far honest boards undervalue a gem
	honestNoise     = 6.0
	reachMin        = 25
	reachMax        = 35
	valueMargin     = 10
	colluderSpacing = 10.0 // meters between the colluders
	metersPerDegree = 111_320.0
	baseLatitude    = 39.9612
	baseLongitude   = -82.9988
	sharedAddress   = "203.0.113.7"
)

// Draft is a generated session: its picks in order, the consensus table they
// should be judged against and the pair that colluded.
type Draft struct {
	SessionID    string
	Participants []string
	Colluders    model.PairKey
	Picks        []model.PickEvent
	Consensus    consensus.Table
}

type drafter struct {
	id       string
	location model.Location
	address  string
}

// Generate builds a draft. One colluder reaches for items well past their
// consensus rank; the other collects "gems" that honest drafters undervalue.
// Both pick from the same network and stand a few meters apart.
func Generate(cfg Config, start time.Time) Draft {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = "sim-" + uuid.NewString()
	}

	n := cfg.Participants
	drafters := make([]drafter, n)
	for i := range drafters {
		drafters[i] = drafter{
			id: fmt.Sprintf("drafter-%02d", i+1),
			location: model.Location{
				Latitude:  baseLatitude + (rng.Float64()-0.5)*0.2,
				Longitude: baseLongitude + (rng.Float64()-0.5)*0.2,
			},
			address: fmt.Sprintf("198.51.100.%d", i+10),
		}
	}

	reacher := rng.IntN(n)
	beneficiary := (reacher + 1 + rng.IntN(n-1)) % n
	drafters[reacher].address = sharedAddress
	drafters[beneficiary].address = sharedAddress
	drafters[beneficiary].location = model.Location{
		Latitude:  drafters[reacher].location.Latitude + colluderSpacing/metersPerDegree,
		Longitude: drafters[reacher].location.Longitude,
	}

	total := n * cfg.Rounds
	items := total + extraItems
	table := make(consensus.Table, items)
	gem := make(map[int]bool)
	for rank := 1; rank <= items; rank++ {
		table[itemID(rank)] = float64(rank)
		if rank%n == 3%n {
			gem[rank] = true
		}
	}

	available := make([]bool, items+1)
	for rank := 1; rank <= items; rank++ {
		available[rank] = true
	}

	d := Draft{
		SessionID: sessionID,
		Colluders: model.PairKey{Low: drafters[reacher].id, High: drafters[beneficiary].id},
		Picks:     make([]model.PickEvent, 0, total),
		Consensus: table,
	}
	if d.Colluders.Low > d.Colluders.High {
		d.Colluders.Low, d.Colluders.High = d.Colluders.High, d.Colluders.Low
	}
	for _, dr := range drafters {
		d.Participants = append(d.Participants, dr.id)
	}

	pickNumber := 0
	for round := 0; round < cfg.Rounds; round++ {
		for slot := 0; slot < n; slot++ {
			idx := slot
			if round%2 == 1 {
				idx = n - 1 - slot
			}
			pickNumber++

			var rank int
			switch {
			case idx == reacher && round > 0:
				rank = reachPick(available, pickNumber+reachMin+rng.IntN(reachMax-reachMin+1))
			case idx == beneficiary:
				rank = gemPick(available, gem, pickNumber)
			}
			if rank == 0 {
				rank = honestPick(available, gem, rng)
			}
			available[rank] = false

			dr := drafters[idx]
			loc := dr.location
			d.Picks = append(d.Picks, model.PickEvent{
				SessionID:      sessionID,
				PickNumber:     pickNumber,
				ParticipantID:  dr.id,
				ItemID:         itemID(rank),
				Timestamp:      start.Add(time.Duration(pickNumber) * cfg.PickInterval),
				Location:       &loc,
				NetworkAddress: dr.address,
			})
		}
	}
	return d
}

func itemID(rank int) string { return fmt.Sprintf("item-%03d", rank) }

// honestPick takes the best item on a slightly noisy board that undervalues gems.
func honestPick(available []bool, gem map[int]bool, rng *rand.Rand) int {
	best, bestValue := 0, 0.0
	for rank, ok := range available {
		if !ok {
			continue
		}
		value := float64(rank) + rng.Float64()*honestNoise
		if gem[rank] {
			value += gemPenalty
		}
		if best == 0 || value < bestValue {
			best, bestValue = rank, value
		}
	}
	return best
}

// reachPick takes the available item closest to target, preferring the deeper one.
func reachPick(available []bool, target int) int {
	for offset := 0; offset < len(available); offset++ {
		if deeper := target + offset; deeper < len(available) && available[deeper] {
			return deeper
		}
		if shallower := target - offset; shallower > 0 && shallower < len(available) && available[shallower] {
			return shallower
		}
	}
	return 0
}

// gemPick takes the best gem that has already fallen past pickNumber by more
// than the value margin.
func gemPick(available []bool, gem map[int]bool, pickNumber int) int {
	for rank := 1; rank < pickNumber-valueMargin && rank < len(available); rank++ {
		if gem[rank] && available[rank] {
			return rank
		}
	}
	return 0
}
