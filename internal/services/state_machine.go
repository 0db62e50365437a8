// internal/services/state_machine.go
package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// LogDraft is an automation log entry the state machine wants appended.
// The persister assigns the sequence number and timestamp.
type LogDraft struct {
	Action   models.AutomationAction
	OldValue string
	NewValue string
	Details  string
}

// TransitionOutcome describes every field the state machine writes. The
// state machine is the sole writer of status, prices, stock level and the
// unreachable streak; a single persister applies the outcome.
type TransitionOutcome struct {
	From              models.SupplierStatus
	To                models.SupplierStatus
	UnreachableStreak int
	CurrentPrice      decimal.Decimal
	PreviousPrice     decimal.NullDecimal
	StockLevel        int
	LogEntries        []LogDraft
}

// Transitioned reports whether the status actually changed.
func (o TransitionOutcome) Transitioned() bool {
	return o.From != o.To
}

// NextState evaluates the transition rules in priority order against one
// signal. It is a pure function: replaying the same sequence of signals
// always yields the same states and the same log entries.
//
// Rule order (first match wins):
//  1. unreachable for N consecutive observations -> removed (terminal)
//  2. out of stock -> out_of_stock
//  3. price delta beyond tolerance -> price_changed (+ price_update log)
//  4. otherwise -> active (status is the current condition, not history)
func NextState(link models.SupplierLink, sig Signal, pol config.MonitoringConfig) TransitionOutcome {
	out := TransitionOutcome{
		From:          link.Status,
		To:            link.Status,
		CurrentPrice:  link.CurrentPrice,
		PreviousPrice: link.PreviousPrice,
		StockLevel:    link.StockLevel,
	}

	// removed is terminal; only an explicit re-import resets it.
	if link.Status.IsTerminal() {
		out.UnreachableStreak = link.UnreachableStreak
		return out
	}

	// Rule 1: unreachable streak. An unreachable read carries no trustworthy
	// price or stock data, so the remaining rules are not evaluated for it.
	if !sig.Reachable {
		out.UnreachableStreak = link.UnreachableStreak + 1
		if out.UnreachableStreak >= pol.UnreachableThreshold {
			out.To = models.SupplierStatusRemoved
			out.LogEntries = append(out.LogEntries, LogDraft{
				Action:  models.ActionProductRemoved,
				Details: "supplier unreachable",
			})
		}
		return out
	}
	out.UnreachableStreak = 0

	// Rule 2: stock condition.
	if !sig.InStock {
		out.To = models.SupplierStatusOutOfStock
		out.StockLevel = 0
		out.LogEntries = append(out.LogEntries, priceDraft(link, sig, pol, &out)...)
		return out
	}
	if out.StockLevel < 1 {
		out.StockLevel = 1
	}

	// Rule 3: price condition. Rule 4 is the fallthrough: in stock with no
	// price movement beyond tolerance means active, whatever came before.
	drafts := priceDraft(link, sig, pol, &out)
	if len(drafts) > 0 {
		out.To = models.SupplierStatusPriceChanged
		out.LogEntries = append(out.LogEntries, drafts...)
		return out
	}

	out.To = models.SupplierStatusActive
	return out
}

// priceDraft applies the price-change rule to the outcome and returns the
// price_update entries to append. Deltas within tolerance are noise and do
// not rotate the stored prices.
func priceDraft(link models.SupplierLink, sig Signal, pol config.MonitoringConfig, out *TransitionOutcome) []LogDraft {
	if !sig.PriceDelta.Valid {
		// First price seen for this link.
		out.CurrentPrice = sig.Price
		return nil
	}

	if sig.PriceDelta.Decimal.Abs().Cmp(pol.PriceTolerance) <= 0 {
		return nil
	}

	out.PreviousPrice = decimal.NullDecimal{Decimal: link.CurrentPrice, Valid: true}
	out.CurrentPrice = sig.Price

	return []LogDraft{{
		Action:   models.ActionPriceUpdate,
		OldValue: link.CurrentPrice.StringFixed(2),
		NewValue: sig.Price.StringFixed(2),
		Details:  fmt.Sprintf("supplier price moved by %s", sig.PriceDelta.Decimal.StringFixed(2)),
	}}
}
