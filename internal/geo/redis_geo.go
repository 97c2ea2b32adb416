package geo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/washer-matching/internal/models"
)

// RedisGeo implements Pool using Redis GEO commands plus a metadata hash per washer.
// Washers without a location live only in the id set and their hash.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisGeoWithClient(c, key)
}

func NewRedisGeoWithClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Client() *redis.Client { return r.client }

func (r *RedisGeo) Close() error { return r.client.Close() }

func (r *RedisGeo) Upsert(ctx context.Context, w models.Washer) error {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, IDsKey(r.key), w.ID)
	pipe.HSet(ctx, MetaKey(w.ID), map[string]interface{}{
		"name":          w.Name,
		"rating":        strconv.FormatFloat(w.Rating, 'f', -1, 64),
		"total_jobs":    strconv.Itoa(w.TotalJobs),
		"total_reviews": strconv.Itoa(w.TotalReviews),
		"radius_km":     strconv.FormatFloat(w.ServiceRadiusKm, 'f', -1, 64),
		"available":     strconv.FormatBool(w.Available),
		"approved":      strconv.FormatBool(w.Approved),
		"active":        strconv.FormatBool(w.Active),
		"updated":       w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if p, ok := w.Location.Point(); ok {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lon, Latitude: p.Lat, Name: w.ID})
	} else {
		pipe.ZRem(ctx, r.key, w.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert washer %s: %w", w.ID, err)
	}
	return nil
}

func (r *RedisGeo) registered(ctx context.Context, id string) error {
	n, err := r.client.Exists(ctx, MetaKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownWasher, id)
	}
	return nil
}

// UpdateLocation writes only the availability flag, the update time and the GEO member.
func (r *RedisGeo) UpdateLocation(ctx context.Context, u models.LocationUpdate) error {
	if err := r.registered(ctx, u.WasherID); err != nil {
		return err
	}
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	fields := map[string]interface{}{"updated": at.UTC().Format(time.RFC3339Nano)}
	if u.Available != nil {
		fields["available"] = strconv.FormatBool(*u.Available)
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, MetaKey(u.WasherID), fields)
	if u.Point != nil {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: u.Point.Lon, Latitude: u.Point.Lat, Name: u.WasherID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update location %s: %w", u.WasherID, err)
	}
	return nil
}

func (r *RedisGeo) IncrTotalJobs(ctx context.Context, id string) error {
	if err := r.registered(ctx, id); err != nil {
		return err
	}
	return r.client.HIncrBy(ctx, MetaKey(id), "total_jobs", 1).Err()
}

func (r *RedisGeo) SetRatingStats(ctx context.Context, id string, rating float64, totalReviews int) error {
	if err := r.registered(ctx, id); err != nil {
		return err
	}
	return r.client.HSet(ctx, MetaKey(id),
		"rating", strconv.FormatFloat(rating, 'f', -1, 64),
		"total_reviews", strconv.Itoa(totalReviews),
	).Err()
}

func (r *RedisGeo) Get(ctx context.Context, id string) (models.Washer, bool, error) {
	meta, err := r.client.HGetAll(ctx, MetaKey(id)).Result()
	if err != nil {
		return models.Washer{}, false, err
	}
	if len(meta) == 0 {
		return models.Washer{}, false, nil
	}
	pos, err := r.client.GeoPos(ctx, r.key, id).Result()
	if err != nil {
		return models.Washer{}, false, err
	}
	var p *redis.GeoPos
	if len(pos) == 1 {
		p = pos[0]
	}
	return decodeWasher(id, meta, p), true, nil
}

// Snapshot loads every registered washer in two round trips.
func (r *RedisGeo) Snapshot(ctx context.Context) ([]models.Washer, error) {
	ids, err := r.client.SMembers(ctx, IDsKey(r.key)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	metas := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		metas[i] = pipe.HGetAll(ctx, MetaKey(id))
	}
	posCmd := pipe.GeoPos(ctx, r.key, ids...)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	positions, err := posCmd.Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Washer, 0, len(ids))
	for i, id := range ids {
		meta, err := metas[i].Result()
		if err != nil || len(meta) == 0 {
			continue
		}
		var p *redis.GeoPos
		if i < len(positions) {
			p = positions[i]
		}
		out = append(out, decodeWasher(id, meta, p))
	}
	return out, nil
}

func decodeWasher(id string, meta map[string]string, pos *redis.GeoPos) models.Washer {
	w := models.Washer{ID: id, Name: meta["name"], ServiceRadiusKm: models.DefaultServiceRadiusKm}
	if v, err := strconv.ParseFloat(meta["rating"], 64); err == nil {
		w.Rating = v
	}
	if v, err := strconv.Atoi(meta["total_jobs"]); err == nil {
		w.TotalJobs = v
	}
	if v, err := strconv.Atoi(meta["total_reviews"]); err == nil {
		w.TotalReviews = v
	}
	if v, err := strconv.ParseFloat(meta["radius_km"], 64); err == nil && v > 0 {
		w.ServiceRadiusKm = v
	}
	w.Available = meta["available"] == "true"
	w.Approved = meta["approved"] == "true"
	w.Active = meta["active"] == "true"
	if t, err := time.Parse(time.RFC3339Nano, meta["updated"]); err == nil {
		w.UpdatedAt = t
	}
	if pos != nil {
		w.Location = models.Located(models.GeoPoint{Lat: pos.Latitude, Lon: pos.Longitude})
	}
	return w
}

func MetaKey(id string) string { return "washer:meta:" + id }

func IDsKey(geoKey string) string { return geoKey + ":ids" }
