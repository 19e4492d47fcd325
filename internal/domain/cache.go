package domain

import (
	"context"
	"time"
)

// RankingCache holds the latest ranked opportunity list and cost basis for
// fast reads by the API.
type RankingCache interface {
	SetLatest(ctx context.Context, cycleID string, opps []Opportunity, cost CostSnapshot) error
	GetLatest(ctx context.Context) (cycleID string, opps []Opportunity, at time.Time, err error)
	GetCost(ctx context.Context) (CostSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channels and streams.
const (
	ChannelOpportunities = "ch:opportunities"
	ChannelExecutions    = "ch:executions"
	ChannelStatus        = "ch:status"
	StreamExecutions     = "stream:executions"
)
