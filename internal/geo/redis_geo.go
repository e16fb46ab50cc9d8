package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisGeo implements Locations using Redis GEO commands, shared across
// processes (API server and the location consumer).
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(d models.Driver) {
	if !d.Loc.Usable() {
		// no usable location: remove the member rather than leave it stale
		_, _ = r.client.ZRem(r.ctx, r.key, member(d.ID)).Result()
		_ = r.client.Del(r.ctx, metaKey(d.ID)).Err()
		return
	}
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{
		Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: member(d.ID),
	}).Result()
	_ = r.client.HSet(r.ctx, metaKey(d.ID), map[string]interface{}{
		"tenant_id": strconv.FormatInt(d.TenantID, 10),
		"name":      d.Name,
		"status":    string(d.Status),
		"updated":   time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) Nearby(lat, lon float64, limit int) []models.Driver {
	res, err := r.client.GeoRadius(r.ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		d := models.Driver{ID: id, Loc: &models.Coord{Lat: g.Latitude, Lon: g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result(); err == nil {
			if v, ok := m["tenant_id"]; ok {
				d.TenantID, _ = strconv.ParseInt(v, 10, 64)
			}
			d.Name = m["name"]
			if v, ok := m["status"]; ok {
				d.Status = models.DriverStatus(v)
			}
		}
		out = append(out, d)
	}
	return out
}

func member(id int64) string { return strconv.FormatInt(id, 10) }

func metaKey(id int64) string { return "driver:meta:" + member(id) }
