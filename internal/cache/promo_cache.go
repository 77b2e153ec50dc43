package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Cheertaboi/reviewcard-checkout/internal/models"
)

var ErrMiss = errors.New("cache miss")

// PromoCache keeps promo code rows in Redis for a short TTL. Validity is
// always re-evaluated by the caller, so a stale entry can only lag a
// deactivation or usage change by one TTL.
type PromoCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewPromoCache(rdb *redis.Client, ttl time.Duration) *PromoCache {
	return &PromoCache{rdb: rdb, ttl: ttl}
}

func promoKey(code string) string {
	return "promo:" + models.NormalizeCode(code)
}

func (c *PromoCache) Get(ctx context.Context, code string) (*models.PromoCode, error) {
	data, err := c.rdb.Get(ctx, promoKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var p models.PromoCode
	if err := json.Unmarshal(data, &p); err != nil {
		// corrupt entry, drop it
		_ = c.rdb.Del(ctx, promoKey(code)).Err()
		return nil, ErrMiss
	}
	return &p, nil
}

func (c *PromoCache) Set(ctx context.Context, p *models.PromoCode) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, promoKey(p.Code), payload, c.ttl).Err()
}

func (c *PromoCache) Invalidate(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, promoKey(code)).Err()
}
