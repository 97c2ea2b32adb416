package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/washer-matching/internal/models"
)

func TestResolveWasher_Automatic(t *testing.T) {
	pool := []models.Washer{washer("low", 2, kmNorth(1), 10), washer("high", 5, kmNorth(3), 10)}
	sw, err := ResolveWasher(models.ModeAutomatic, servicePoint, pool, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "high", sw.ID)
	assert.True(t, sw.BestMatch)
}

func TestResolveWasher_AutomaticFailures(t *testing.T) {
	_, err := ResolveWasher(models.ModeAutomatic, servicePoint, nil, "")
	assert.ErrorIs(t, err, ErrNoWashersAvailable)

	_, err = ResolveWasher(models.ModeAutomatic, servicePoint, []models.Washer{washer("far", 5, kmNorth(30), 10)}, "")
	assert.ErrorIs(t, err, ErrNoWashersInArea)
}

func TestResolveWasher_ChosenModes(t *testing.T) {
	off := washer("off", 5, kmNorth(1), 10)
	off.Available = false
	pool := []models.Washer{washer("a", 2, kmNorth(1), 10), washer("far", 5, kmNorth(30), 10), off}

	for _, mode := range []models.SelectionMode{models.ModeManual, models.ModeFavorites} {
		t.Run(string(mode), func(t *testing.T) {
			sw, err := ResolveWasher(mode, servicePoint, pool, "a")
			require.NoError(t, err)
			assert.Equal(t, "a", sw.ID, "chosen washer wins even when not top ranked")
			assert.InDelta(t, 1.0, sw.DistanceKm, 0.01)

			_, err = ResolveWasher(mode, servicePoint, pool, "")
			assert.ErrorIs(t, err, ErrSelectionRequired)

			_, err = ResolveWasher(mode, servicePoint, pool, "missing")
			assert.ErrorIs(t, err, ErrWasherNotFound)

			_, err = ResolveWasher(mode, servicePoint, pool, "far")
			assert.ErrorIs(t, err, ErrStaleSelection)

			_, err = ResolveWasher(mode, servicePoint, pool, "off")
			assert.ErrorIs(t, err, ErrStaleSelection)
			assert.NotErrorIs(t, err, ErrWasherNotFound)
		})
	}
}

func TestResolveWasher_UnknownMode(t *testing.T) {
	_, err := ResolveWasher(models.SelectionMode("random"), servicePoint, nil, "")
	assert.ErrorIs(t, err, models.ErrInvalidMode)
}
