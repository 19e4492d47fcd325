package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const executionColumns = `id, cycle_id, opportunity_id, token_pair, buy_venue, sell_venue,
	approved, verdict, reason, status, expected_profit_pct, live_profit_pct,
	net_profit_usd, tx_hash, nonce, confirmed_block, gas_used, balance_deltas,
	channels, states, error, decided_at, completed_at`

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// executionRow holds the column encodings of an ExecutionDecision.
type executionRow struct {
	nonce          *int64
	confirmedBlock *int64
	deltas         []byte
	channels       []byte
	states         []byte
}

func encodeExecution(d domain.ExecutionDecision) (executionRow, error) {
	var r executionRow
	if d.Nonce != nil {
		n := int64(*d.Nonce)
		r.nonce = &n
	}
	if d.ConfirmedBlock != nil {
		b := int64(*d.ConfirmedBlock)
		r.confirmedBlock = &b
	}

	var err error
	if r.deltas, err = marshalList(d.BalanceDeltas); err != nil {
		return r, fmt.Errorf("postgres: marshal balance deltas: %w", err)
	}
	if r.channels, err = marshalList(d.Channels); err != nil {
		return r, fmt.Errorf("postgres: marshal channels: %w", err)
	}
	if r.states, err = marshalList(d.States); err != nil {
		return r, fmt.Errorf("postgres: marshal states: %w", err)
	}
	return r, nil
}

// marshalList encodes nil slices as an empty JSON array.
func marshalList[T any](v []T) ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v)
}

// Save inserts d, or updates it when a record with the same id exists.
func (s *ExecutionStore) Save(ctx context.Context, d domain.ExecutionDecision) error {
	r, err := encodeExecution(d)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			approved = EXCLUDED.approved,
			verdict = EXCLUDED.verdict,
			reason = EXCLUDED.reason,
			status = EXCLUDED.status,
			live_profit_pct = EXCLUDED.live_profit_pct,
			tx_hash = EXCLUDED.tx_hash,
			nonce = EXCLUDED.nonce,
			confirmed_block = EXCLUDED.confirmed_block,
			gas_used = EXCLUDED.gas_used,
			balance_deltas = EXCLUDED.balance_deltas,
			channels = EXCLUDED.channels,
			states = EXCLUDED.states,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`,
		d.ID, d.CycleID, d.OpportunityID, d.TokenPair, d.BuyVenue, d.SellVenue,
		d.Approved, string(d.Verdict), string(d.Reason), string(d.Status), d.ExpectedProfitPct, d.LiveProfitPct,
		d.NetProfitUSD, d.TxHash, r.nonce, r.confirmedBlock, int64(d.GasUsed), r.deltas,
		r.channels, r.states, d.Error, d.DecidedAt, d.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save execution %s: %w", d.ID, err)
	}
	return nil
}

// GetByID returns the execution with the given id, or domain.ErrNotFound.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionDecision, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	d, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionDecision{}, domain.ErrNotFound
		}
		return domain.ExecutionDecision{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return d, nil
}

// ListRecent returns the most recent executions.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions ORDER BY decided_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionDecision
	for rows.Next() {
		d, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return list, nil
}

// SumNetProfit totals the expected net profit of settled executions decided
// since the given time.
func (s *ExecutionStore) SumNetProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_profit_usd), 0) FROM executions WHERE status = $1 AND decided_at >= $2`,
		string(domain.ExecSettled), since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum execution profit: %w", err)
	}
	return sum, nil
}

func scanExecution(row pgx.Row) (domain.ExecutionDecision, error) {
	var (
		d                       domain.ExecutionDecision
		verdict, reason, status string
		nonce, confirmedBlock   *int64
		gasUsed                 int64
		deltas, channels        []byte
		states                  []byte
	)
	err := row.Scan(&d.ID, &d.CycleID, &d.OpportunityID, &d.TokenPair, &d.BuyVenue, &d.SellVenue,
		&d.Approved, &verdict, &reason, &status, &d.ExpectedProfitPct, &d.LiveProfitPct,
		&d.NetProfitUSD, &d.TxHash, &nonce, &confirmedBlock, &gasUsed, &deltas,
		&channels, &states, &d.Error, &d.DecidedAt, &d.CompletedAt)
	if err != nil {
		return domain.ExecutionDecision{}, err
	}

	d.Verdict = domain.Verdict(verdict)
	d.Reason = domain.Reason(reason)
	d.Status = domain.ExecStatus(status)
	d.GasUsed = uint64(gasUsed)
	if nonce != nil {
		n := uint64(*nonce)
		d.Nonce = &n
	}
	if confirmedBlock != nil {
		b := uint64(*confirmedBlock)
		d.ConfirmedBlock = &b
	}
	if err := unmarshalList(deltas, &d.BalanceDeltas); err != nil {
		return domain.ExecutionDecision{}, fmt.Errorf("balance deltas: %w", err)
	}
	if err := unmarshalList(channels, &d.Channels); err != nil {
		return domain.ExecutionDecision{}, fmt.Errorf("channels: %w", err)
	}
	if err := unmarshalList(states, &d.States); err != nil {
		return domain.ExecutionDecision{}, fmt.Errorf("states: %w", err)
	}
	return d, nil
}

func unmarshalList[T any](raw []byte, dst *[]T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
