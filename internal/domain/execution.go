package domain

import "time"

// Verdict is the outcome of live revalidation.
type Verdict string

const (
	VerdictProfitable    Verdict = "profitable"
	VerdictNotProfitable Verdict = "not_profitable"
	VerdictIndeterminate Verdict = "indeterminate"
)

// Reason explains an execution decision.
type Reason string

const (
	ReasonApproved            Reason = "approved"
	ReasonInsufficientMargin  Reason = "insufficient_margin"
	ReasonContractUnavailable Reason = "contract_unavailable"
	ReasonNotProfitable       Reason = "not_profitable"
	ReasonGasTooHigh          Reason = "gas_too_high"
	ReasonIndeterminate       Reason = "indeterminate"
	ReasonExecutionDisabled   Reason = "execution_disabled"
	ReasonDuplicate           Reason = "duplicate"
	ReasonSubmissionFailed    Reason = "submission_failed"
	ReasonReverted            Reason = "reverted"
	ReasonIncluded            Reason = "included"
	ReasonConfirmTimeout      Reason = "confirmation_timeout"
)

// ExecStatus is the terminal status recorded for a decision.
type ExecStatus string

const (
	ExecApproved ExecStatus = "approved"
	ExecRejected ExecStatus = "rejected"
	ExecSettled  ExecStatus = "settled"
	ExecFailed   ExecStatus = "failed"
	ExecUnknown  ExecStatus = "unknown"
)

// DispatchState is a step of the dispatch state machine.
type DispatchState string

const (
	StateBuild        DispatchState = "build"
	StateSign         DispatchState = "sign"
	StateBroadcast    DispatchState = "broadcast"
	StateAwaitConfirm DispatchState = "await_confirm"
	StateSettled      DispatchState = "settled"
	StateFailed       DispatchState = "failed"
	StateUnknown      DispatchState = "unknown"
)

// Terminal reports whether no further transition is possible.
func (s DispatchState) Terminal() bool {
	return s == StateSettled || s == StateFailed || s == StateUnknown
}

// Channel names used in ChannelResult.
const (
	ChannelPublic = "public"
	ChannelRelay  = "relay"
)

// ChannelResult records one submission attempt on one broadcast channel.
type ChannelResult struct {
	Channel     string `json:"channel"`
	TargetBlock uint64 `json:"target_block,omitempty"`
	Accepted    bool   `json:"accepted"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BalanceDelta is a before/after balance reading for one asset, in whole
// token units.
type BalanceDelta struct {
	Asset  string `json:"asset"`
	Symbol string `json:"symbol"`
	Before string `json:"before"`
	After  string `json:"after"`
	Delta  string `json:"delta"`
}

// ExecutionDecision is the terminal record of a gate + dispatch attempt.
type ExecutionDecision struct {
	ID                string          `json:"id"`
	CycleID           string          `json:"cycle_id"`
	OpportunityID     string          `json:"opportunity_id,omitempty"`
	TokenPair         string          `json:"token_pair,omitempty"`
	BuyVenue          string          `json:"buy_venue,omitempty"`
	SellVenue         string          `json:"sell_venue,omitempty"`
	Approved          bool            `json:"approved"`
	Verdict           Verdict         `json:"verdict,omitempty"`
	Reason            Reason          `json:"reason"`
	Status            ExecStatus      `json:"status"`
	ExpectedProfitPct float64         `json:"expected_profit_percent"`
	LiveProfitPct     float64         `json:"live_profit_percent"`
	NetProfitUSD      float64         `json:"net_profit_usd"`
	TxHash            string          `json:"tx_hash,omitempty"`
	Nonce             *uint64         `json:"nonce,omitempty"`
	ConfirmedBlock    *uint64         `json:"confirmed_block,omitempty"`
	GasUsed           uint64          `json:"gas_used,omitempty"`
	BalanceDeltas     []BalanceDelta  `json:"balance_deltas,omitempty"`
	Channels          []ChannelResult `json:"channels,omitempty"`
	States            []DispatchState `json:"states,omitempty"`
	Error             string          `json:"error,omitempty"`
	DecidedAt         time.Time       `json:"decided_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}
