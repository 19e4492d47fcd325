// Package notify delivers operator alerts about execution outcomes and
// failed cycles to Telegram and Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Event types an operator can subscribe to.
const (
	EventExecutionSettled = "execution_settled"
	EventExecutionFailed  = "execution_failed"
	EventExecutionUnknown = "execution_unknown"
	EventCycleError       = "cycle_error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a notification out to every Sender, filtered by event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends to all senders when event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyExecution alerts on a terminal dispatch outcome. Decisions that never
// reached the chain are ignored.
func (n *Notifier) NotifyExecution(ctx context.Context, d domain.ExecutionDecision) error {
	event, ok := ExecutionEvent(d.Status)
	if !ok {
		return nil
	}
	return n.Notify(ctx, event, executionTitle(d), FormatExecution(d))
}

// NotifyCycleError alerts on a cycle that terminated early.
func (n *Notifier) NotifyCycleError(ctx context.Context, cycleID string, cause error) error {
	return n.Notify(ctx, EventCycleError, "Cycle failed",
		fmt.Sprintf("cycle %s: %v", cycleID, cause))
}

// ExecutionEvent maps a terminal status to its event type.
func ExecutionEvent(status domain.ExecStatus) (string, bool) {
	switch status {
	case domain.ExecSettled:
		return EventExecutionSettled, true
	case domain.ExecFailed:
		return EventExecutionFailed, true
	case domain.ExecUnknown:
		return EventExecutionUnknown, true
	default:
		return "", false
	}
}

func executionTitle(d domain.ExecutionDecision) string {
	switch d.Status {
	case domain.ExecSettled:
		return "Arbitrage settled"
	case domain.ExecFailed:
		return "Arbitrage failed"
	default:
		return "Arbitrage outcome unknown"
	}
}

// FormatExecution renders d as a short multi-line message.
func FormatExecution(d domain.ExecutionDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "route: %s > %s (%s)\n", d.BuyVenue, d.SellVenue, d.TokenPair)
	fmt.Fprintf(&b, "expected net: $%.2f (%.3f%%, live %.3f%%)\n", d.NetProfitUSD, d.ExpectedProfitPct, d.LiveProfitPct)
	fmt.Fprintf(&b, "reason: %s", d.Reason)
	if d.TxHash != "" {
		fmt.Fprintf(&b, "\ntx: %s", d.TxHash)
	}
	if d.ConfirmedBlock != nil {
		fmt.Fprintf(&b, "\nblock: %d", *d.ConfirmedBlock)
	}
	for _, delta := range d.BalanceDeltas {
		fmt.Fprintf(&b, "\n%s: %s", delta.Symbol, delta.Delta)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", d.Error)
	}
	return b.String()
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
