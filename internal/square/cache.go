package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const candidatesKey = "square:catalog:candidates"

// CandidateCache keeps the flattened Square catalog warm between
// suggestion calls so repeated matching does not hammer the Square API.
// Concurrent misses collapse through singleflight into a single fetch.
type CandidateCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCandidateCache wires the cache. A nil client degrades to calling
// the loader directly.
func NewCandidateCache(client *redis.Client, ttl time.Duration) *CandidateCache {
	return &CandidateCache{client: client, ttl: ttl}
}

// Fetch returns the cached candidate list, loading and storing it on a
// miss.
func (c *CandidateCache) Fetch(ctx context.Context, loader func(context.Context) ([]CatalogCandidate, error)) ([]CatalogCandidate, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}

	raw, err := c.client.Get(ctx, candidatesKey).Bytes()
	if err == nil {
		var cached []CatalogCandidate
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
		// Unreadable payload: fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read candidate cache: %w", err)
	}

	ch := c.group.DoChan(candidatesKey, func() (any, error) {
		candidates, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(candidates)
		if err != nil {
			return nil, fmt.Errorf("encode candidate cache: %w", err)
		}
		if err := c.client.Set(ctx, candidatesKey, payload, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("write candidate cache: %w", err)
		}
		return candidates, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]CatalogCandidate), nil
	}
}

// Invalidate drops the cached catalog. Imports call this so the next
// suggestion round sees fresh Square data.
func (c *CandidateCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, candidatesKey).Err(); err != nil {
		return fmt.Errorf("invalidate candidate cache: %w", err)
	}
	return nil
}
