package eta

import "math"

// DefaultSpeedMps is roughly 28.8 km/h, a typical city driving speed.
const DefaultSpeedMps = 8.0

// EstimateMinutes converts a straight-line distance into travel minutes at speedMps.
// Straight-line estimate, no routing.
func EstimateMinutes(distanceKm, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	if distanceKm <= 0 {
		return 0
	}
	return math.Ceil(distanceKm * 1000 / speedMps / 60)
}
