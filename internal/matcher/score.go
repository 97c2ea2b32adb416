package matcher

import "math"

const (
	RatingWeight         = 0.7
	ProximityWeight      = 0.3
	MaxRating            = 5.0
	DefaultMaxDistanceKm = 50.0
)

// Score blends rating and proximity with the default 50 km normalization distance.
func Score(rating, distanceKm float64) float64 {
	return ScoreWithin(rating, distanceKm, DefaultMaxDistanceKm)
}

// ScoreWithin returns RatingWeight*rating/5 + ProximityWeight*max(0, 1-d/max), in [0,1].
// Proximity contributes nothing once distanceKm >= maxDistanceKm.
func ScoreWithin(rating, distanceKm, maxDistanceKm float64) float64 {
	if maxDistanceKm <= 0 {
		maxDistanceKm = DefaultMaxDistanceKm
	}
	normalizedRating := clamp01(rating / MaxRating)
	proximity := clamp01(1 - distanceKm/maxDistanceKm)
	return clamp01(RatingWeight*normalizedRating + ProximityWeight*proximity)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RoundDistance rounds to one decimal for display.
func RoundDistance(km float64) float64 { return math.Round(km*10) / 10 }

// RoundScore rounds to two decimals for display.
func RoundScore(s float64) float64 { return math.Round(s*100) / 100 }

// RoundRating rounds an average rating to one decimal for display.
func RoundRating(r float64) float64 { return math.Round(r*10) / 10 }
