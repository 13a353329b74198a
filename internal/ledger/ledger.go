// Package ledger implements the remittance ledger: deposits locked under a
// commitment that only the intended releaser can open before a deadline,
// refundable to the depositor afterwards, with a per-deposit fee and an
// owner-controlled lifecycle (active, paused, killed) gating every mutation.
//
// A Ledger is safe for concurrent use. Mutations are serialized on a single
// write lock and each one either commits completely (store write and payout)
// or leaves no trace.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time in unix seconds.
type Clock func() uint64

// SystemClock reads the wall clock.
func SystemClock() uint64 { return uint64(time.Now().Unix()) }

// Payer moves value out of the ledger to an external party.
type Payer interface {
	Transfer(ctx context.Context, to Address, amount uint64) error
}

// Store persists ledger state. Commit must apply a batch atomically.
// Load returns (nil, nil) for a store that was never written.
type Store interface {
	Load() (*Snapshot, error)
	Commit(b *Batch) error
	Events(from uint64, limit int) ([]Event, error)
	Close() error
}

// Params configure a ledger at genesis. They are ignored when the store
// already holds a ledger.
type Params struct {
	ID    Address // zero picks a random identity
	Owner Address
	Fee   uint64
}

// Ledger is one remittance ledger instance.
type Ledger struct {
	mu       sync.RWMutex
	meta     Meta
	deposits map[Commitment]Deposit
	store    Store
	payer    Payer
	clock    Clock
	logger   *zap.Logger
	created  bool
	// undo is a compensating batch the store has not accepted yet. While it
	// is set the store is ahead of memory and no mutation may commit.
	undo *Batch
}

// New loads the ledger held by store, or creates and persists a fresh one
// from p when the store is empty.
func New(p Params, store Store, payer Payer, clock Clock, logger *zap.Logger) (*Ledger, error) {
	if clock == nil {
		clock = SystemClock
	}
	l := &Ledger{
		deposits: make(map[Commitment]Deposit),
		store:    store,
		payer:    payer,
		clock:    clock,
		logger:   logger,
	}

	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if snap != nil {
		l.meta = snap.Meta
		for c, d := range snap.Deposits {
			l.deposits[c] = d
		}
		if !p.Owner.IsZero() && p.Owner != l.meta.Owner {
			logger.Warn("Configured owner differs from stored owner, keeping stored",
				zap.Stringer("configured", p.Owner), zap.Stringer("stored", l.meta.Owner))
		}
		if p.Fee != l.meta.Fee {
			logger.Warn("Configured fee differs from stored fee, keeping stored",
				zap.Uint64("configured", p.Fee), zap.Uint64("stored", l.meta.Fee))
		}
		logger.Info("Ledger loaded",
			zap.Stringer("id", l.meta.ID),
			zap.Stringer("owner", l.meta.Owner),
			zap.Stringer("state", l.meta.State),
			zap.Int("deposits", len(l.deposits)),
		)
		return l, nil
	}

	if p.Owner.IsZero() {
		return nil, fmt.Errorf("genesis owner: %w", ErrNullAddress)
	}
	id := p.ID
	if id.IsZero() {
		if _, err := rand.Read(id[:]); err != nil {
			return nil, fmt.Errorf("ledger id: %w", err)
		}
	}
	l.meta = Meta{
		ID:       id,
		Owner:    p.Owner,
		State:    StateActive,
		Fee:      p.Fee,
		LastSeen: clock(),
	}
	if err := store.Commit(&Batch{Meta: l.meta}); err != nil {
		return nil, fmt.Errorf("persist genesis: %w", err)
	}
	l.created = true
	logger.Info("Ledger created",
		zap.Stringer("id", l.meta.ID),
		zap.Stringer("owner", l.meta.Owner),
		zap.Uint64("fee", l.meta.Fee),
	)
	return l, nil
}

// Created reports whether New created this ledger rather than loading it.
func (l *Ledger) Created() bool { return l.created }

// GeneratePuzzle computes the commitment binding releaser and secret to this
// ledger. It never mutates state.
func (l *Ledger) GeneratePuzzle(releaser Address, secret []byte) Commitment {
	l.mu.RLock()
	id := l.meta.ID
	l.mu.RUnlock()
	return GeneratePuzzle(id, releaser, secret)
}

// CreateRemittance locks amountSent minus the fee under commitment until
// now+durationSeconds. The caller becomes the depositor.
func (l *Ledger) CreateRemittance(ctx context.Context, caller Address, commitment Commitment, durationSeconds, amountSent uint64) (Deposit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireUsable(); err != nil {
		return Deposit{}, l.reject("create", caller, err)
	}
	if amountSent <= l.meta.Fee {
		return Deposit{}, l.reject("create", caller,
			fmt.Errorf("%w: sent %d, fee %d", ErrInsufficientValue, amountSent, l.meta.Fee))
	}
	if d, ok := l.deposits[commitment]; ok && d.Open() {
		return Deposit{}, l.reject("create", caller, fmt.Errorf("%w: %s", ErrDuplicateCommitment, commitment))
	}

	t := l.begin()
	deadline, err := add(t.meta.LastSeen, durationSeconds)
	if err != nil {
		return Deposit{}, l.reject("create", caller, fmt.Errorf("deadline: %w", err))
	}
	if t.meta.FeePool, err = add(t.meta.FeePool, t.meta.Fee); err != nil {
		return Deposit{}, l.reject("create", caller, fmt.Errorf("fee pool: %w", err))
	}
	if t.meta.Held, err = add(t.meta.Held, amountSent); err != nil {
		return Deposit{}, l.reject("create", caller, fmt.Errorf("held: %w", err))
	}
	if t.meta.TotalReceived, err = add(t.meta.TotalReceived, amountSent); err != nil {
		return Deposit{}, l.reject("create", caller, fmt.Errorf("received: %w", err))
	}

	d := Deposit{Depositor: caller, Amount: amountSent - t.meta.Fee, Deadline: deadline}
	t.put(commitment, d)
	t.emit(EventNewRemittance, caller, Address{}, commitment, d.Amount)

	if err := l.commit(ctx, t, Address{}, 0); err != nil {
		return Deposit{}, err
	}
	l.logger.Info("Remittance created",
		zap.Stringer("depositor", caller),
		zap.Stringer("commitment", commitment),
		zap.Uint64("amount", d.Amount),
		zap.Uint64("deadline", d.Deadline),
	)
	return d, nil
}

// ReleaseFunds pays the deposit whose commitment matches the caller and
// secret to the caller. The caller's own address is part of the hash, so a
// secret replayed by anyone else resolves to a different commitment.
func (l *Ledger) ReleaseFunds(ctx context.Context, caller Address, secret []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireUsable(); err != nil {
		return 0, l.reject("release", caller, err)
	}
	commitment := GeneratePuzzle(l.meta.ID, caller, secret)
	d, ok := l.deposits[commitment]
	if !ok || !d.Open() {
		return 0, l.reject("release", caller, fmt.Errorf("%w: %s", ErrNotFound, commitment))
	}
	now := l.now()
	if now > d.Deadline {
		return 0, l.reject("release", caller,
			fmt.Errorf("%w: deadline %d, now %d", ErrExpired, d.Deadline, now))
	}

	amount, err := l.close(ctx, caller, commitment, d, EventFundsReleased)
	if err != nil {
		return 0, err
	}
	l.logger.Info("Funds released",
		zap.Stringer("releaser", caller),
		zap.Stringer("commitment", commitment),
		zap.Uint64("amount", amount),
	)
	return amount, nil
}

// ReclaimFunds refunds an expired deposit to its depositor.
func (l *Ledger) ReclaimFunds(ctx context.Context, caller Address, commitment Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireUsable(); err != nil {
		return 0, l.reject("reclaim", caller, err)
	}
	d, ok := l.deposits[commitment]
	if !ok || !d.Open() {
		return 0, l.reject("reclaim", caller, fmt.Errorf("%w: %s", ErrNotFound, commitment))
	}
	if d.Depositor != caller {
		return 0, l.reject("reclaim", caller, fmt.Errorf("%w: %s", ErrNotDepositor, commitment))
	}
	now := l.now()
	if now <= d.Deadline {
		return 0, l.reject("reclaim", caller,
			fmt.Errorf("%w: deadline %d, now %d", ErrNotExpired, d.Deadline, now))
	}

	amount, err := l.close(ctx, caller, commitment, d, EventFundsReclaimed)
	if err != nil {
		return 0, err
	}
	l.logger.Info("Funds reclaimed",
		zap.Stringer("depositor", caller),
		zap.Stringer("commitment", commitment),
		zap.Uint64("amount", amount),
	)
	return amount, nil
}

// close zeroes an open deposit and pays its amount to caller.
// Must be called with the write lock held.
func (l *Ledger) close(ctx context.Context, caller Address, c Commitment, d Deposit, kind EventKind) (uint64, error) {
	t := l.begin()
	amount := d.Amount
	var err error
	if t.meta.Held, err = sub(t.meta.Held, amount); err != nil {
		return 0, fmt.Errorf("held: %w", err)
	}
	if t.meta.TotalPaid, err = add(t.meta.TotalPaid, amount); err != nil {
		return 0, fmt.Errorf("paid: %w", err)
	}
	d.Amount = 0
	t.put(c, d)
	t.emit(kind, caller, Address{}, c, amount)
	if err := l.commit(ctx, t, caller, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// WithdrawFees pays the whole fee pool to the owner. It is allowed in every
// lifecycle state. An empty pool succeeds without moving value.
func (l *Ledger) WithdrawFees(ctx context.Context, caller Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.onlyOwner(caller); err != nil {
		return 0, l.reject("withdraw-fees", caller, err)
	}
	pool := l.meta.FeePool
	if pool == 0 {
		return 0, nil
	}

	t := l.begin()
	var err error
	if t.meta.Held, err = sub(t.meta.Held, pool); err != nil {
		return 0, fmt.Errorf("held: %w", err)
	}
	if t.meta.TotalPaid, err = add(t.meta.TotalPaid, pool); err != nil {
		return 0, fmt.Errorf("paid: %w", err)
	}
	t.meta.FeePool = 0
	t.emit(EventFeesWithdrawn, caller, Address{}, Commitment{}, pool)
	if err := l.commit(ctx, t, caller, pool); err != nil {
		return 0, err
	}
	l.logger.Info("Fees withdrawn", zap.Stringer("owner", caller), zap.Uint64("amount", pool))
	return pool, nil
}

// Balance returns the amount stored under c, zero when absent or closed.
func (l *Ledger) Balance(c Commitment) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deposits[c].Amount
}

// Remittance returns the record stored under c.
func (l *Ledger) Remittance(c Commitment) (Deposit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.deposits[c]
	return d, ok
}

func (l *Ledger) ID() Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.ID
}

func (l *Ledger) Fee() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.Fee
}

func (l *Ledger) FeePool() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.FeePool
}

// Held returns the value currently held by the ledger.
func (l *Ledger) Held() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.Held
}

// Status returns a summary of the ledger.
func (l *Ledger) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	open := 0
	for _, d := range l.deposits {
		if d.Open() {
			open++
		}
	}
	return Status{
		ID:           l.meta.ID,
		Owner:        l.meta.Owner,
		State:        l.meta.State,
		Fee:          l.meta.Fee,
		FeePool:      l.meta.FeePool,
		Held:         l.meta.Held,
		OpenDeposits: open,
	}
}

// Events returns up to limit events starting at sequence number from. Only
// events of completed operations are returned.
func (l *Ledger) Events(from uint64, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events, err := l.store.Events(from, limit)
	if err != nil {
		return nil, err
	}
	for i, e := range events {
		if e.Seq >= l.meta.NextSeq {
			return events[:i], nil
		}
	}
	return events, nil
}

// Err returns ErrInconsistent while a failed rollback is still pending.
func (l *Ledger) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.undo != nil {
		return ErrInconsistent
	}
	return nil
}

// Overdue counts open deposits whose deadline has passed and sums their
// amounts. Nothing is closed; only the depositor can reclaim.
func (l *Ledger) Overdue() (count int, amount uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	for _, d := range l.deposits {
		if d.Open() && now > d.Deadline {
			count++
			amount += d.Amount
		}
	}
	return count, amount
}

// Audit verifies the accounting invariants: held value equals open deposits
// plus the fee pool, and equals everything received minus everything paid.
func (l *Ledger) Audit() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var open uint64
	for c, d := range l.deposits {
		var err error
		if open, err = add(open, d.Amount); err != nil {
			return fmt.Errorf("audit %s: %w", c, err)
		}
	}
	if sum := open + l.meta.FeePool; sum != l.meta.Held {
		return fmt.Errorf("audit: deposits %d + fee pool %d != held %d", open, l.meta.FeePool, l.meta.Held)
	}
	if l.meta.TotalReceived-l.meta.TotalPaid != l.meta.Held {
		return fmt.Errorf("audit: received %d - paid %d != held %d",
			l.meta.TotalReceived, l.meta.TotalPaid, l.meta.Held)
	}
	return nil
}

// now returns the clock reading, never earlier than a time already observed.
func (l *Ledger) now() uint64 {
	t := l.clock()
	if t < l.meta.LastSeen {
		return l.meta.LastSeen
	}
	return t
}

func (l *Ledger) reject(op string, caller Address, err error) error {
	l.logger.Debug("Operation rejected",
		zap.String("op", op),
		zap.Stringer("caller", caller),
		zap.Error(err),
	)
	return err
}

// txn stages one mutation on top of the committed state.
type txn struct {
	meta     Meta
	deposits map[Commitment]Deposit
	events   []Event
}

// begin must be called with the write lock held.
func (l *Ledger) begin() *txn {
	t := &txn{meta: l.meta, deposits: make(map[Commitment]Deposit)}
	t.meta.LastSeen = l.now()
	return t
}

func (t *txn) put(c Commitment, d Deposit) { t.deposits[c] = d }

func (t *txn) emit(kind EventKind, actor, counterparty Address, c Commitment, amount uint64) {
	t.events = append(t.events, Event{
		Seq:          t.meta.NextSeq,
		Kind:         kind,
		At:           t.meta.LastSeen,
		Actor:        actor,
		Counterparty: counterparty,
		Commitment:   c,
		Amount:       amount,
	})
	t.meta.NextSeq++
}

// commit persists t, pays amount to payTo when amount is non-zero, and only
// then publishes t in memory. A failed payout is undone in the store with a
// compensating batch. Must be called with the write lock held.
func (l *Ledger) commit(ctx context.Context, t *txn, payTo Address, amount uint64) error {
	if err := l.repair(); err != nil {
		return err
	}
	if err := l.store.Commit(&Batch{Meta: t.meta, Deposits: t.deposits, Events: t.events}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if amount > 0 {
		if err := l.payer.Transfer(ctx, payTo, amount); err != nil {
			if rerr := l.rollback(t); rerr != nil {
				return fmt.Errorf("%w: pay %d to %s: %w (%w)", ErrTransferFailed, amount, payTo, err, rerr)
			}
			return fmt.Errorf("%w: pay %d to %s: %w", ErrTransferFailed, amount, payTo, err)
		}
	}
	l.meta = t.meta
	for c, d := range t.deposits {
		l.deposits[c] = d
	}
	return nil
}

// rollback undoes t in the store. When the store refuses, the undo batch is
// kept and replayed by repair before anything else is committed.
func (l *Ledger) rollback(t *txn) error {
	undo := &Batch{Meta: l.meta, Deposits: make(map[Commitment]Deposit, len(t.deposits))}
	for c := range t.deposits {
		// An absent record and a zero record behave the same everywhere.
		undo.Deposits[c] = l.deposits[c]
	}
	for _, e := range t.events {
		undo.DropEvents = append(undo.DropEvents, e.Seq)
	}
	if err := l.store.Commit(undo); err != nil {
		l.undo = undo
		l.logger.Error("Rollback after failed transfer could not be persisted", zap.Error(err))
		return fmt.Errorf("%w: rollback: %w", ErrInconsistent, err)
	}
	l.logger.Warn("Rolled back after failed transfer", zap.Int("events", len(t.events)))
	return nil
}

// Repair persists a pending rollback, if any.
func (l *Ledger) Repair() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repair()
}

// repair replays a pending undo batch. Must be called with the write lock held.
func (l *Ledger) repair() error {
	if l.undo == nil {
		return nil
	}
	if err := l.store.Commit(l.undo); err != nil {
		return fmt.Errorf("%w: replay rollback: %w", ErrInconsistent, err)
	}
	l.undo = nil
	l.logger.Warn("Pending rollback persisted")
	return nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}
