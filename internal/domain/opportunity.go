package domain

import "time"

// Opportunity is a scored buy-low/sell-high combination across two venues
// for the same token pair.
type Opportunity struct {
	ID                   string    `json:"id"`
	TokenPair            string    `json:"token_pair"`
	BaseToken            string    `json:"base_token"`
	BaseSymbol           string    `json:"base_symbol"`
	QuoteToken           string    `json:"quote_token"`
	QuoteSymbol          string    `json:"quote_symbol"`
	BuyVenue             string    `json:"buy_venue"`
	SellVenue            string    `json:"sell_venue"`
	BuyVenueType         uint8     `json:"buy_venue_type"`
	SellVenueType        uint8     `json:"sell_venue_type"`
	BuyPool              string    `json:"buy_pool"`
	SellPool             string    `json:"sell_pool"`
	BuyPrice             float64   `json:"buy_price"`
	SellPrice            float64   `json:"sell_price"`
	ProfitPercent        float64   `json:"profit_percent"`
	TradeSizeUSD         float64   `json:"trade_size_usd"`
	GrossProfitUSD       float64   `json:"gross_profit_usd"`
	GasCostUSD           float64   `json:"gas_cost_usd"`
	FlashLoanFeeUSD      float64   `json:"flash_loan_fee_usd"`
	NetProfitUSD         float64   `json:"net_profit_usd"`
	FlashLoanAsset       string    `json:"flash_loan_asset"`
	FlashLoanAssetSymbol string    `json:"flash_loan_asset_symbol"`
	FlashLoanAmount      string    `json:"flash_loan_amount"`
	DetectedAt           time.Time `json:"detected_at"`
}

// RouteName is the lexical venue-pair label used for display and ordering.
func (o Opportunity) RouteName() string {
	return o.BuyVenue + ">" + o.SellVenue + ":" + o.TokenPair
}
