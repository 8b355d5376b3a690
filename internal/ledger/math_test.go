package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func batchWith(received, remaining string) Batch {
	return Batch{
		QuantityReceived:  decimal.RequireFromString(received),
		RemainingQuantity: decimal.RequireFromString(remaining),
	}
}

func TestApplyDeltaPositiveGrowsReceived(t *testing.T) {
	res := applyDelta(batchWith("10", "10"), decimal.NewFromInt(3))

	require.True(t, res.QuantityReceived.Equal(decimal.NewFromInt(13)))
	require.True(t, res.RemainingQuantity.Equal(decimal.NewFromInt(13)))
	require.True(t, res.AppliedDelta.Equal(decimal.NewFromInt(3)))
	require.False(t, res.IsDepleted)
}

func TestApplyDeltaNegativeKeepsReceived(t *testing.T) {
	res := applyDelta(batchWith("10", "10"), decimal.NewFromInt(-3))

	require.True(t, res.QuantityReceived.Equal(decimal.NewFromInt(10)))
	require.True(t, res.RemainingQuantity.Equal(decimal.NewFromInt(7)))
	require.True(t, res.AppliedDelta.Equal(decimal.NewFromInt(-3)))
	require.False(t, res.IsDepleted)
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	res := applyDelta(batchWith("10", "4"), decimal.NewFromInt(-9))

	require.True(t, res.RemainingQuantity.IsZero())
	require.True(t, res.IsDepleted)
	// movement records what actually left the batch, not the request
	require.True(t, res.AppliedDelta.Equal(decimal.NewFromInt(-4)))
}

func TestApplyDeltaToExactZero(t *testing.T) {
	res := applyDelta(batchWith("5", "5"), decimal.NewFromInt(-5))

	require.True(t, res.RemainingQuantity.IsZero())
	require.True(t, res.IsDepleted)
	require.True(t, res.AppliedDelta.Equal(decimal.NewFromInt(-5)))
}

func TestBatchNumberDeterministic(t *testing.T) {
	require.Equal(t, "WCN-2026-0042-M7", BatchNumber("WCN-2026-0042", 7))
	require.Equal(t, BatchNumber("WCN-2026-0042", 7), BatchNumber("WCN-2026-0042", 7))
	require.NotEqual(t, BatchNumber("WCN-2026-0042", 7), BatchNumber("WCN-2026-0042", 8))
}
