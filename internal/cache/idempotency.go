package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrInFlight = errors.New("request with this idempotency key is still in progress")

const inFlightMarker = "in-flight"

// StoredResponse is the reply recorded for a finished request.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore reserves Idempotency-Key values per user with SETNX.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *IdempotencyStore) key(scope, userID, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", scope, userID, key)
}

// Reserve claims the key. It returns (nil, nil) when the caller owns the key,
// the stored response when the request already finished, or ErrInFlight.
func (s *IdempotencyStore) Reserve(ctx context.Context, scope, userID, key string) (*StoredResponse, error) {
	k := s.key(scope, userID, key)
	ok, err := s.rdb.SetNX(ctx, k, inFlightMarker, s.ttl).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; try once more
		return s.Reserve(ctx, scope, userID, key)
	}
	if err != nil {
		return nil, err
	}
	if val == inFlightMarker {
		return nil, ErrInFlight
	}
	var resp StoredResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

// Complete records the final response for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, userID, key string, resp StoredResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(scope, userID, key), payload, s.ttl).Err()
}

// Release frees the key so the client may try again.
func (s *IdempotencyStore) Release(ctx context.Context, scope, userID, key string) error {
	return s.rdb.Del(ctx, s.key(scope, userID, key)).Err()
}
