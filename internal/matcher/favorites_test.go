package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/washer-matching/internal/models"
)

var day = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func completed(id, customer, washerID, service string, rating int, daysAgo int) models.BookingRecord {
	b := models.BookingRecord{
		ID: id, CustomerID: customer, WasherID: washerID, Status: models.StatusCompleted,
		ServiceName: service, CompletedAt: day.AddDate(0, 0, -daysAgo),
	}
	if rating > 0 {
		b.Review = &models.Review{BookingID: id, ReviewerID: customer, WasherID: washerID, Rating: rating}
	}
	return b
}

func TestSelectFavorites_RatingThreshold(t *testing.T) {
	pool := []models.Washer{washer("three", 5, kmNorth(1), 10), washer("four", 3, kmNorth(1), 10)}
	history := []models.BookingRecord{
		completed("b1", "cust", "three", "Basic", 3, 1),
		completed("b2", "cust", "four", "Basic", 4, 1),
	}

	res := SelectFavorites("cust", servicePoint, history, pool)

	require.Len(t, res.Washers, 1)
	assert.Equal(t, "four", res.Washers[0].ID)
	assert.Equal(t, models.ReasonNone, res.Reason)
}

func TestSelectFavorites_GroupsAndRanks(t *testing.T) {
	pool := []models.Washer{
		washer("x", 3.1, kmNorth(2), 10),
		washer("y", 4.9, kmNorth(2), 10),
		washer("z", 4.0, kmNorth(2), 10),
	}
	history := []models.BookingRecord{
		completed("b1", "cust", "x", "Basic", 5, 30),
		completed("b2", "cust", "x", "Premium", 5, 2),
		completed("b3", "cust", "x", "Basic", 4, 10),
		completed("b4", "cust", "y", "Basic", 4, 3),
		completed("b5", "cust", "z", "Basic", 5, 1),
		completed("b6", "cust", "z", "Interior", 4, 5),
	}

	res := SelectFavorites("cust", servicePoint, history, pool)

	require.Len(t, res.Washers, 3)
	x, z, y := res.Washers[0], res.Washers[1], res.Washers[2]
	assert.Equal(t, "x", x.ID)
	assert.InDelta(t, 14.0/3.0, x.AverageRatingGiven, 1e-9)
	assert.Equal(t, 3, x.ServicesCount)
	assert.Equal(t, "Premium", x.LastService.ServiceName)
	assert.Equal(t, day.AddDate(0, 0, -2), x.LastService.Date)
	assert.Equal(t, 5, x.LastService.RatingGiven)
	assert.InDelta(t, 2.0, x.DistanceKm, 0.01)

	assert.Equal(t, "z", z.ID)
	assert.InDelta(t, 4.5, z.AverageRatingGiven, 1e-9)
	assert.Equal(t, "y", y.ID, "customer's own ratings outrank the public rating")
}

func TestSelectFavorites_CountBreaksAverageTie(t *testing.T) {
	pool := []models.Washer{washer("once", 5, kmNorth(1), 10), washer("twice", 5, kmNorth(1), 10)}
	history := []models.BookingRecord{
		completed("b1", "cust", "once", "Basic", 5, 1),
		completed("b2", "cust", "twice", "Basic", 5, 2),
		completed("b3", "cust", "twice", "Basic", 5, 3),
	}
	res := SelectFavorites("cust", servicePoint, history, pool)
	require.Len(t, res.Washers, 2)
	assert.Equal(t, "twice", res.Washers[0].ID)
}

func TestSelectFavorites_Filters(t *testing.T) {
	away := washer("away", 5, kmNorth(1), 10)
	away.Available = false
	pool := []models.Washer{washer("far", 5, kmNorth(15), 10), away, washer("ok", 5, kmNorth(1), 10)}
	pending := completed("b4", "cust", "ok", "Basic", 5, 1)
	pending.Status = models.StatusPending
	history := []models.BookingRecord{
		completed("b1", "cust", "far", "Basic", 5, 1),
		completed("b2", "cust", "away", "Basic", 5, 1),
		completed("b3", "cust", "ok", "Basic", 0, 1),
		pending,
		completed("b5", "other", "ok", "Basic", 5, 1),
		completed("b6", "cust", "gone", "Basic", 5, 1),
	}

	res := SelectFavorites("cust", servicePoint, history, pool)

	assert.Empty(t, res.Washers)
	assert.Equal(t, models.ReasonNoFavorites, res.Reason)
	assert.NotEmpty(t, res.Reason.Message())
}

func TestSelectFavorites_NoHistory(t *testing.T) {
	res := SelectFavorites("cust", servicePoint, nil, []models.Washer{washer("a", 5, kmNorth(1), 10)})
	assert.NotNil(t, res.Washers)
	assert.Equal(t, models.ReasonNoFavorites, res.Reason)
}
