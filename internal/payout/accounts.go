// Package payout provides an in-memory settlement rail for ledger payouts.
package payout

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

var (
	// ErrRejected is returned when a destination refuses a transfer.
	ErrRejected = errors.New("transfer rejected by destination")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Accounts tracks external balances credited by ledger payouts.
// It implements ledger.Payer.
type Accounts struct {
	mu       sync.RWMutex
	balances map[ledger.Address]uint64
	blocked  map[ledger.Address]bool
	logger   *zap.Logger
}

// NewAccounts creates an empty rail.
func NewAccounts(logger *zap.Logger) *Accounts {
	return &Accounts{
		balances: make(map[ledger.Address]uint64),
		blocked:  make(map[ledger.Address]bool),
		logger:   logger,
	}
}

// Transfer credits amount to the destination account.
func (a *Accounts) Transfer(ctx context.Context, to ledger.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blocked[to] {
		return fmt.Errorf("%w: %s", ErrRejected, to)
	}
	sum, carry := bits.Add64(a.balances[to], amount, 0)
	if carry != 0 {
		return fmt.Errorf("%w: balance of %s would overflow", ErrRejected, to)
	}
	a.balances[to] = sum
	a.logger.Debug("Payout credited", zap.Stringer("to", to), zap.Uint64("amount", amount))
	return nil
}

// Debit takes amount from the account of from, the value a caller attaches
// to a deposit.
func (a *Accounts) Debit(ctx context.Context, from ledger.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	bal := a.balances[from]
	if bal < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, bal, amount)
	}
	a.balances[from] = bal - amount
	a.logger.Debug("Account debited", zap.Stringer("from", from), zap.Uint64("amount", amount))
	return nil
}

// Balance returns the amount credited to addr so far.
func (a *Accounts) Balance(addr ledger.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balances[addr]
}

// Block makes every later transfer to addr fail until Unblock.
func (a *Accounts) Block(addr ledger.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[addr] = true
}

func (a *Accounts) Unblock(addr ledger.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.blocked, addr)
}
