package matcher

import (
	"sort"

	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/models"
)

const DefaultLimit = 5

type verdict int

const (
	accepted verdict = iota
	ineligible
	outOfRange
)

// evaluate scores one washer against the service point.
func evaluate(point models.GeoPoint, w models.Washer) (models.ScoredWasher, verdict) {
	loc, ok := w.Location.Point()
	if !ok || !w.Eligible() {
		return models.ScoredWasher{}, ineligible
	}
	d := geo.DistanceKm(point, loc)
	if d > w.ServiceRadiusKm {
		return models.ScoredWasher{}, outOfRange
	}
	return models.ScoredWasher{Washer: w, DistanceKm: d, Score: Score(w.Rating, d)}, accepted
}

// SelectCandidates ranks the washers of pool that can serve point.
// Order is by unrounded score descending; equal scores fall back to washer id
// ascending and then to pool order. limit <= 0 means DefaultLimit.
func SelectCandidates(point models.GeoPoint, pool []models.Washer, limit int) models.RankedResult {
	if limit <= 0 {
		limit = DefaultLimit
	}
	eligible := 0
	scored := make([]models.ScoredWasher, 0, len(pool))
	for _, w := range pool {
		sw, v := evaluate(point, w)
		switch v {
		case ineligible:
			continue
		case outOfRange:
			eligible++
			continue
		}
		eligible++
		scored = append(scored, sw)
	}

	res := models.RankedResult{Washers: []models.ScoredWasher{}, Total: len(scored)}
	switch {
	case eligible == 0:
		res.Reason = models.ReasonNoWashers
		return res
	case len(scored) == 0:
		res.Reason = models.ReasonOutOfRange
		return res
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i + 1
		scored[i].BestMatch = i == 0
	}
	res.Washers = scored
	return res
}

// CountAvailable reports how many washers are available and how many of those have a location.
func CountAvailable(pool []models.Washer) models.PoolStats {
	var st models.PoolStats
	for _, w := range pool {
		if !w.Available || !w.Approved || !w.Active {
			continue
		}
		st.Available++
		if _, ok := w.Location.Point(); ok {
			st.WithLocation++
		}
	}
	return st
}
