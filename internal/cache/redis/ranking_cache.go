package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	rankingKey = keyPrefix + "ranking:latest"
	costKey    = keyPrefix + "ranking:cost"
)

// rankingEntry is the JSON document stored under rankingKey.
type rankingEntry struct {
	CycleID       string               `json:"cycle_id"`
	At            time.Time            `json:"at"`
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// RankingCache implements domain.RankingCache. Entries expire after ttl so
// a stalled engine stops serving stale rankings.
type RankingCache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRankingCache creates a RankingCache. A zero ttl keeps entries forever.
func NewRankingCache(c *Client, ttl time.Duration) *RankingCache {
	return &RankingCache{rdb: c.Underlying(), ttl: ttl, now: time.Now}
}

// SetLatest replaces the cached ranking and cost basis.
func (rc *RankingCache) SetLatest(ctx context.Context, cycleID string, opps []domain.Opportunity, cost domain.CostSnapshot) error {
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	ranking, err := json.Marshal(rankingEntry{CycleID: cycleID, At: rc.now().UTC(), Opportunities: opps})
	if err != nil {
		return fmt.Errorf("redis: marshal ranking: %w", err)
	}
	costJSON, err := json.Marshal(cost)
	if err != nil {
		return fmt.Errorf("redis: marshal cost: %w", err)
	}

	_, err = rc.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, rankingKey, string(ranking), rc.ttl)
		p.Set(ctx, costKey, string(costJSON), rc.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set ranking %s: %w", cycleID, err)
	}
	return nil
}

// GetLatest returns the cached ranking, or domain.ErrNotFound.
func (rc *RankingCache) GetLatest(ctx context.Context) (string, []domain.Opportunity, time.Time, error) {
	raw, err := rc.rdb.Get(ctx, rankingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil, time.Time{}, domain.ErrNotFound
		}
		return "", nil, time.Time{}, fmt.Errorf("redis: get ranking: %w", err)
	}
	var entry rankingEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", nil, time.Time{}, fmt.Errorf("redis: decode ranking: %w", err)
	}
	return entry.CycleID, entry.Opportunities, entry.At, nil
}

// GetCost returns the cost basis cached with the latest ranking.
func (rc *RankingCache) GetCost(ctx context.Context) (domain.CostSnapshot, error) {
	raw, err := rc.rdb.Get(ctx, costKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CostSnapshot{}, domain.ErrNotFound
		}
		return domain.CostSnapshot{}, fmt.Errorf("redis: get cost: %w", err)
	}
	var cost domain.CostSnapshot
	if err := json.Unmarshal(raw, &cost); err != nil {
		return domain.CostSnapshot{}, fmt.Errorf("redis: decode cost: %w", err)
	}
	return cost, nil
}

var _ domain.RankingCache = (*RankingCache)(nil)
