package matcher

import (
	"sort"

	"github.com/example/washer-matching/internal/geo"
	"github.com/example/washer-matching/internal/models"
)

// MinFavoriteRating is the lowest review a customer can give and still count a washer as a favorite.
const MinFavoriteRating = 4

type favoriteAcc struct {
	washer models.Washer
	count  int
	total  int
	last   models.LastService
}

// SelectFavorites ranks the washers a customer previously rated highly and who can
// still serve point. Ranking uses the customer's own average rating, then the
// number of completed services, then washer id.
func SelectFavorites(customerID string, point models.GeoPoint, history []models.BookingRecord, pool []models.Washer) models.FavoritesResult {
	current := make(map[string]models.Washer, len(pool))
	for _, w := range pool {
		if w.Eligible() {
			current[w.ID] = w
		}
	}

	groups := make(map[string]*favoriteAcc)
	for _, b := range history {
		if b.CustomerID != customerID || b.Status != models.StatusCompleted {
			continue
		}
		if b.Review == nil || b.Review.Rating < MinFavoriteRating {
			continue
		}
		w, ok := current[b.WasherID]
		if !ok {
			continue
		}
		acc, ok := groups[b.WasherID]
		if !ok {
			acc = &favoriteAcc{washer: w}
			groups[b.WasherID] = acc
		}
		acc.count++
		acc.total += b.Review.Rating
		if acc.count == 1 || b.CompletedAt.After(acc.last.Date) {
			acc.last = models.LastService{Date: b.CompletedAt, ServiceName: b.ServiceName, RatingGiven: b.Review.Rating}
		}
	}

	out := make([]models.FavoriteWasher, 0, len(groups))
	for _, acc := range groups {
		loc, _ := acc.washer.Location.Point()
		d := geo.DistanceKm(point, loc)
		if d > acc.washer.ServiceRadiusKm {
			continue
		}
		out = append(out, models.FavoriteWasher{
			Washer:             acc.washer,
			DistanceKm:         d,
			ServicesCount:      acc.count,
			AverageRatingGiven: float64(acc.total) / float64(acc.count),
			LastService:        acc.last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageRatingGiven != out[j].AverageRatingGiven {
			return out[i].AverageRatingGiven > out[j].AverageRatingGiven
		}
		if out[i].ServicesCount != out[j].ServicesCount {
			return out[i].ServicesCount > out[j].ServicesCount
		}
		return out[i].ID < out[j].ID
	})

	res := models.FavoritesResult{Washers: out}
	if len(out) == 0 {
		res.Reason = models.ReasonNoFavorites
	}
	return res
}
