package ledger

import "github.com/shopspring/decimal"

// deltaResult captures the balance change produced by one adjustment.
type deltaResult struct {
	QuantityReceived  decimal.Decimal
	RemainingQuantity decimal.Decimal
	IsDepleted        bool
	// AppliedDelta is the movement quantity actually recorded. It differs
	// from the requested delta only when clamping at zero truncates a
	// negative correction, keeping the movement log the source of truth.
	AppliedDelta decimal.Decimal
}

// applyDelta computes the new batch balance for a signed correction.
// RemainingQuantity never goes below zero; QuantityReceived grows only for
// positive deltas (it is a monotonic cumulative receipt counter).
func applyDelta(batch Batch, delta decimal.Decimal) deltaResult {
	remaining := batch.RemainingQuantity.Add(delta)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	received := batch.QuantityReceived
	if delta.IsPositive() {
		received = received.Add(delta)
	}
	return deltaResult{
		QuantityReceived:  received,
		RemainingQuantity: remaining,
		IsDepleted:        !remaining.IsPositive(),
		AppliedDelta:      remaining.Sub(batch.RemainingQuantity),
	}
}
