package matcher

import (
	"errors"
	"fmt"

	"github.com/example/washer-matching/internal/models"
)

var (
	ErrNoWashersAvailable = errors.New("no washers available at the moment")
	ErrNoWashersInArea    = errors.New("no washers available in your area")
	ErrSelectionRequired  = errors.New("a washer must be selected for this mode")
	ErrWasherNotFound     = errors.New("washer not found")
	// ErrStaleSelection means the chosen washer exists but can no longer take the booking.
	ErrStaleSelection = errors.New("selected washer is no longer available")
)

// emptyErr maps an empty ranked result to its failure.
func emptyErr(r models.EmptyReason) error {
	if r == models.ReasonOutOfRange {
		return ErrNoWashersInArea
	}
	return ErrNoWashersAvailable
}

// ResolveWasher picks the washer for a new booking from a fresh pool snapshot.
// Automatic mode takes the best candidate; manual and favorites re-validate the
// customer's choice against eligibility and the washer's service radius.
func ResolveWasher(mode models.SelectionMode, point models.GeoPoint, pool []models.Washer, chosenID string) (models.ScoredWasher, error) {
	switch mode {
	case models.ModeAutomatic:
		res := SelectCandidates(point, pool, 1)
		if len(res.Washers) == 0 {
			return models.ScoredWasher{}, emptyErr(res.Reason)
		}
		return res.Washers[0], nil
	case models.ModeManual, models.ModeFavorites:
		if chosenID == "" {
			return models.ScoredWasher{}, ErrSelectionRequired
		}
		for _, w := range pool {
			if w.ID != chosenID {
				continue
			}
			sw, v := evaluate(point, w)
			if v != accepted {
				return models.ScoredWasher{}, fmt.Errorf("%w: %s", ErrStaleSelection, chosenID)
			}
			sw.Rank = 1
			sw.BestMatch = true
			return sw, nil
		}
		return models.ScoredWasher{}, fmt.Errorf("%w: %s", ErrWasherNotFound, chosenID)
	}
	return models.ScoredWasher{}, fmt.Errorf("%w: %q", models.ErrInvalidMode, mode)
}
