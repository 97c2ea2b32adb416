package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/example/washer-matching/internal/models"
)

var ErrNoResults = errors.New("address could not be geocoded")

// GoogleGeocoder resolves free-text addresses with the Google Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
	region string
}

func NewGoogleGeocoder(apiKey, region string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client, region: region}, nil
}

// Geocode returns the location of the first result for address.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (models.GeoPoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return models.GeoPoint{}, ErrNoResults
	}
	res, err := g.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: g.region})
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(res) == 0 {
		return models.GeoPoint{}, ErrNoResults
	}
	loc := res[0].Geometry.Location
	p := models.GeoPoint{Lat: loc.Lat, Lon: loc.Lng}
	if err := p.Validate(); err != nil {
		return models.GeoPoint{}, err
	}
	return p, nil
}
