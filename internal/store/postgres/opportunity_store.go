package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const opportunityColumns = `id, token_pair, base_token, base_symbol, quote_token, quote_symbol,
	buy_venue, sell_venue, buy_venue_type, sell_venue_type, buy_pool, sell_pool,
	buy_price, sell_price, profit_percent, trade_size_usd, gross_profit_usd,
	gas_cost_usd, flash_loan_fee_usd, net_profit_usd, flash_loan_asset,
	flash_loan_asset_symbol, flash_loan_amount::TEXT, detected_at`

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// InsertBatch stores one cycle's ranked opportunities, rank taken from slice
// order. Ids already present are left untouched.
func (s *OpportunityStore) InsertBatch(ctx context.Context, cycleID string, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, o := range opps {
		batch.Queue(`
			INSERT INTO opportunities (id, cycle_id, rank, token_pair, base_token, base_symbol, quote_token, quote_symbol,
				buy_venue, sell_venue, buy_venue_type, sell_venue_type, buy_pool, sell_pool,
				buy_price, sell_price, profit_percent, trade_size_usd, gross_profit_usd,
				gas_cost_usd, flash_loan_fee_usd, net_profit_usd, flash_loan_asset,
				flash_loan_asset_symbol, flash_loan_amount, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, cycleID, i+1, o.TokenPair, o.BaseToken, o.BaseSymbol, o.QuoteToken, o.QuoteSymbol,
			o.BuyVenue, o.SellVenue, int16(o.BuyVenueType), int16(o.SellVenueType), o.BuyPool, o.SellPool,
			o.BuyPrice, o.SellPrice, o.ProfitPercent, o.TradeSizeUSD, o.GrossProfitUSD,
			o.GasCostUSD, o.FlashLoanFeeUSD, o.NetProfitUSD, o.FlashLoanAsset,
			o.FlashLoanAssetSymbol, o.FlashLoanAmount, o.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunities for cycle %s: %w", cycleID, err)
		}
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities ORDER BY detected_at DESC, rank ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

// ListBefore returns opportunities detected before the cutoff, oldest first.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectOpportunities(rows)
}

// DeleteBefore removes opportunities detected before the cutoff and reports
// how many rows went.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	defer rows.Close()
	var list []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: opportunity rows: %w", err)
	}
	return list, nil
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var o domain.Opportunity
	var buyType, sellType int16
	err := row.Scan(&o.ID, &o.TokenPair, &o.BaseToken, &o.BaseSymbol, &o.QuoteToken, &o.QuoteSymbol,
		&o.BuyVenue, &o.SellVenue, &buyType, &sellType, &o.BuyPool, &o.SellPool,
		&o.BuyPrice, &o.SellPrice, &o.ProfitPercent, &o.TradeSizeUSD, &o.GrossProfitUSD,
		&o.GasCostUSD, &o.FlashLoanFeeUSD, &o.NetProfitUSD, &o.FlashLoanAsset,
		&o.FlashLoanAssetSymbol, &o.FlashLoanAmount, &o.DetectedAt)
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("postgres: scan opportunity: %w", err)
	}
	o.BuyVenueType = uint8(buyType)
	o.SellVenueType = uint8(sellType)
	return o, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
