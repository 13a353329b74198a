package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

func TestLifecycleScenario(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	f.deposit(t, alice, carol, 10, 5000)

	_, err := f.l.EmptyAccount(ctx, owner, owner)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	assert.ErrorIs(t, f.l.Kill(ctx, owner), ledger.ErrInvalidState, "kill must go through pause")
	assert.ErrorIs(t, f.l.Resume(ctx, owner), ledger.ErrInvalidState)

	require.NoError(t, f.l.Pause(ctx, owner))
	assert.Equal(t, ledger.StatePaused, f.l.State())
	assert.ErrorIs(t, f.l.Pause(ctx, owner), ledger.ErrInvalidState)

	_, err = f.l.ReleaseFunds(ctx, carol, secret)
	assert.ErrorIs(t, err, ledger.ErrSystemPaused)
	_, err = f.l.CreateRemittance(ctx, alice, f.l.GeneratePuzzle(bob, secret), 10, 100)
	assert.ErrorIs(t, err, ledger.ErrSystemPaused)

	require.NoError(t, f.l.Kill(ctx, owner))
	assert.Equal(t, ledger.StateKilled, f.l.State())
	assert.ErrorIs(t, f.l.Resume(ctx, owner), ledger.ErrInvalidState)
	assert.ErrorIs(t, f.l.Kill(ctx, owner), ledger.ErrInvalidState)

	_, err = f.l.ReleaseFunds(ctx, carol, secret)
	assert.ErrorIs(t, err, ledger.ErrSystemPaused)
	f.clock.t += 100
	_, err = f.l.ReclaimFunds(ctx, alice, f.l.GeneratePuzzle(carol, secret))
	assert.ErrorIs(t, err, ledger.ErrSystemPaused)

	swept, err := f.l.EmptyAccount(ctx, owner, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), swept)
	assert.Equal(t, uint64(5000), f.accounts.Balance(bob))
	assert.Equal(t, uint64(0), f.l.Held())
	assert.Equal(t, 0, f.l.Status().OpenDeposits)
	require.NoError(t, f.l.Audit())
}

func TestPauseResume(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	require.NoError(t, f.l.Pause(ctx, owner))
	require.NoError(t, f.l.Resume(ctx, owner))
	assert.Equal(t, ledger.StateActive, f.l.State())

	f.deposit(t, alice, carol, 10, 100)
	_, err := f.l.ReleaseFunds(ctx, carol, secret)
	require.NoError(t, err)
}

func TestAdminRequiresOwner(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()

	assert.ErrorIs(t, f.l.Pause(ctx, alice), ledger.ErrNotOwner)
	require.NoError(t, f.l.Pause(ctx, owner))
	assert.ErrorIs(t, f.l.Resume(ctx, alice), ledger.ErrNotOwner)
	assert.ErrorIs(t, f.l.Kill(ctx, alice), ledger.ErrNotOwner)
	assert.ErrorIs(t, f.l.TransferOwnership(ctx, alice, alice), ledger.ErrNotOwner)
	require.NoError(t, f.l.Kill(ctx, owner))
	_, err := f.l.EmptyAccount(ctx, alice, alice)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)
}

func TestTransferOwnership(t *testing.T) {
	f := setup(t, 5)
	ctx := context.Background()
	f.deposit(t, alice, carol, 10, 100)

	assert.ErrorIs(t, f.l.TransferOwnership(ctx, owner, ledger.Address{}), ledger.ErrNullAddress)

	require.NoError(t, f.l.TransferOwnership(ctx, owner, bob))
	assert.Equal(t, bob, f.l.Owner())
	assert.ErrorIs(t, f.l.Pause(ctx, owner), ledger.ErrNotOwner)

	// Fees accrued under the previous owner go to the new one.
	_, err := f.l.WithdrawFees(ctx, owner)
	assert.ErrorIs(t, err, ledger.ErrNotOwner)
	paid, err := f.l.WithdrawFees(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), paid)
	assert.Equal(t, uint64(5), f.accounts.Balance(bob))

	events, err := f.l.Events(0, 0)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.Kind == ledger.EventOwnershipTransferred {
			found = true
			assert.Equal(t, owner, e.Actor)
			assert.Equal(t, bob, e.Counterparty)
		}
	}
	assert.True(t, found)
}

func TestWithdrawFeesInAnyState(t *testing.T) {
	f := setup(t, 5)
	ctx := context.Background()
	f.deposit(t, alice, carol, 10, 100)
	require.NoError(t, f.l.Pause(ctx, owner))

	paid, err := f.l.WithdrawFees(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), paid)

	require.NoError(t, f.l.Kill(ctx, owner))
	paid, err = f.l.WithdrawFees(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), paid)
}

func TestEmptyAccountNullDestination(t *testing.T) {
	f := setup(t, 0)
	ctx := context.Background()
	require.NoError(t, f.l.Pause(ctx, owner))
	require.NoError(t, f.l.Kill(ctx, owner))

	_, err := f.l.EmptyAccount(ctx, owner, ledger.Address{})
	assert.ErrorIs(t, err, ledger.ErrNullAddress)
}

func TestEmptyAccountTransferFailure(t *testing.T) {
	f := setup(t, 10)
	ctx := context.Background()
	c := f.deposit(t, alice, carol, 10, 100)
	require.NoError(t, f.l.Pause(ctx, owner))
	require.NoError(t, f.l.Kill(ctx, owner))

	f.accounts.Block(bob)
	_, err := f.l.EmptyAccount(ctx, owner, bob)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.Equal(t, uint64(100), f.l.Held())
	assert.Equal(t, uint64(10), f.l.FeePool())
	assert.Equal(t, uint64(90), f.l.Balance(c))
	require.NoError(t, f.l.Audit())
}

func TestErrorCodes(t *testing.T) {
	f := setup(t, 0)
	err := f.l.Pause(context.Background(), alice)
	assert.Equal(t, "NotOwner", ledger.Code(err))
	assert.Equal(t, "Internal", ledger.Code(assert.AnError))
}
