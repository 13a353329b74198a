package payout

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

func TestTransferCredits(t *testing.T) {
	a := NewAccounts(zap.NewNop())
	to := ledger.Address{0x01}

	require.NoError(t, a.Transfer(context.Background(), to, 30))
	require.NoError(t, a.Transfer(context.Background(), to, 12))
	assert.Equal(t, uint64(42), a.Balance(to))
	assert.Equal(t, uint64(0), a.Balance(ledger.Address{0x02}))
}

func TestTransferBlocked(t *testing.T) {
	a := NewAccounts(zap.NewNop())
	to := ledger.Address{0x01}

	a.Block(to)
	assert.ErrorIs(t, a.Transfer(context.Background(), to, 1), ErrRejected)
	assert.Equal(t, uint64(0), a.Balance(to))

	a.Unblock(to)
	require.NoError(t, a.Transfer(context.Background(), to, 1))
}

func TestTransferOverflow(t *testing.T) {
	a := NewAccounts(zap.NewNop())
	to := ledger.Address{0x01}

	require.NoError(t, a.Transfer(context.Background(), to, math.MaxUint64))
	assert.ErrorIs(t, a.Transfer(context.Background(), to, 1), ErrRejected)
	assert.Equal(t, uint64(math.MaxUint64), a.Balance(to))
}

func TestTransferCancelled(t *testing.T) {
	a := NewAccounts(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Transfer(ctx, ledger.Address{0x01}, 1), context.Canceled)
}

func TestDebit(t *testing.T) {
	a := NewAccounts(zap.NewNop())
	from := ledger.Address{0x01}
	require.NoError(t, a.Transfer(context.Background(), from, 100))

	require.NoError(t, a.Debit(context.Background(), from, 40))
	assert.Equal(t, uint64(60), a.Balance(from))

	assert.ErrorIs(t, a.Debit(context.Background(), from, 61), ErrInsufficientFunds)
	assert.Equal(t, uint64(60), a.Balance(from))

	require.NoError(t, a.Debit(context.Background(), from, 60))
	assert.Equal(t, uint64(0), a.Balance(from))
}
