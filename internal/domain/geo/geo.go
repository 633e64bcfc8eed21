// Package geo provides the pure proximity helpers used by the tracker: great
// circle distance, canonical pair keys and flag kind merging.
package geo

import (
	"math"

	"github.com/okian/draftwatch/internal/domain/model"
)

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6_371_000.0

// DefaultProximityMeters is the physical proximity threshold (50 feet).
const DefaultProximityMeters = 15.24

const degToRad = math.Pi / 180.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// DistanceMeters returns the haversine distance between a and b.
func DistanceMeters(a, b Point) float64 {
	dLat := (b.Latitude - a.Latitude) * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	// Rounding can push h marginally outside [0,1] for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CanonicalPairKey orders the two ids lexicographically so the same pair maps
// to the same key regardless of submission order.
func CanonicalPairKey(a, b string) model.PairKey {
	if b < a {
		a, b = b, a
	}
	return model.PairKey{Low: a, High: b}
}

// MergeFlagKind combines an existing flag kind with a newly observed one. The
// result never ranks below either input: differing single kinds become both.
func MergeFlagKind(existing, next model.FlagKind) model.FlagKind {
	switch {
	case existing == model.FlagNone:
		return next
	case next == model.FlagNone, existing == next:
		return existing
	default:
		// Either one side is already both, or physical meets network.
		return model.FlagBoth
	}
}

// ObservedKind returns the kind implied by a single comparison.
func ObservedKind(physical, network bool) model.FlagKind {
	switch {
	case physical && network:
		return model.FlagBoth
	case physical:
		return model.FlagPhysical
	case network:
		return model.FlagNetwork
	default:
		return model.FlagNone
	}
}
