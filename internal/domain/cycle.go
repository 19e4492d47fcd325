package domain

import "time"

// ExtractStats counts per-reason skips during price extraction.
type ExtractStats struct {
	Pools            int `json:"pools"`
	Accepted         int `json:"accepted"`
	SkippedMalformed int `json:"skipped_malformed"`
	SkippedLiquidity int `json:"skipped_liquidity"`
	SkippedName      int `json:"skipped_name"`
	SkippedToken     int `json:"skipped_token"`
	SkippedPrice     int `json:"skipped_price"`
}

// Skipped returns the total number of rejected pools.
func (s ExtractStats) Skipped() int {
	return s.SkippedMalformed + s.SkippedLiquidity + s.SkippedName + s.SkippedToken + s.SkippedPrice
}

// CycleReport summarises one monitoring cycle.
type CycleReport struct {
	CycleID       string             `json:"cycle_id"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
	Venues        int                `json:"venues"`
	Stats         ExtractStats       `json:"stats"`
	PricePoints   int                `json:"price_points"`
	Pairs         int                `json:"pairs"`
	Cost          *CostSnapshot      `json:"cost,omitempty"`
	Opportunities []Opportunity      `json:"opportunities"`
	Decision      *ExecutionDecision `json:"decision,omitempty"`
	Error         string             `json:"error,omitempty"`
}
