package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OpportunityStore persists ranked opportunities per cycle.
type OpportunityStore interface {
	InsertBatch(ctx context.Context, cycleID string, opps []Opportunity) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// ExecutionStore persists execution decisions and their outcomes.
type ExecutionStore interface {
	Save(ctx context.Context, d ExecutionDecision) error
	GetByID(ctx context.Context, id string) (ExecutionDecision, error)
	ListRecent(ctx context.Context, limit int) ([]ExecutionDecision, error)
	SumNetProfit(ctx context.Context, since time.Time) (float64, error)
}

// AuditEntry is a single row of the append-only audit log.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
