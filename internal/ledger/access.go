package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Owner returns the identity holding administrative rights.
func (l *Ledger) Owner() Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.Owner
}

// State returns the current lifecycle state.
func (l *Ledger) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta.State
}

// Pause moves an active ledger to paused.
func (l *Ledger) Pause(ctx context.Context, caller Address) error {
	return l.transition(ctx, "pause", caller, StateActive, StatePaused, EventPaused)
}

// Resume moves a paused ledger back to active. A killed ledger stays killed.
func (l *Ledger) Resume(ctx context.Context, caller Address) error {
	return l.transition(ctx, "resume", caller, StatePaused, StateActive, EventResumed)
}

// Kill permanently halts a paused ledger.
func (l *Ledger) Kill(ctx context.Context, caller Address) error {
	return l.transition(ctx, "kill", caller, StatePaused, StateKilled, EventKilled)
}

func (l *Ledger) transition(ctx context.Context, op string, caller Address, from, to State, kind EventKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.onlyOwner(caller); err != nil {
		return l.reject(op, caller, err)
	}
	if l.meta.State != from {
		return l.reject(op, caller, fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, l.meta.State))
	}

	t := l.begin()
	t.meta.State = to
	t.emit(kind, caller, Address{}, Commitment{}, 0)
	if err := l.commit(ctx, t, Address{}, 0); err != nil {
		return err
	}
	l.logger.Info("Lifecycle changed", zap.Stringer("from", from), zap.Stringer("to", to))
	return nil
}

// TransferOwnership hands administrative rights, including the right to the
// accrued fee pool, to newOwner.
func (l *Ledger) TransferOwnership(ctx context.Context, caller, newOwner Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.onlyOwner(caller); err != nil {
		return l.reject("transfer-ownership", caller, err)
	}
	if newOwner.IsZero() {
		return l.reject("transfer-ownership", caller, fmt.Errorf("new owner: %w", ErrNullAddress))
	}

	t := l.begin()
	t.meta.Owner = newOwner
	t.emit(EventOwnershipTransferred, caller, newOwner, Commitment{}, 0)
	if err := l.commit(ctx, t, Address{}, 0); err != nil {
		return err
	}
	l.logger.Info("Ownership transferred", zap.Stringer("from", caller), zap.Stringer("to", newOwner))
	return nil
}

// EmptyAccount sweeps everything a killed ledger still holds to destination.
// Open deposits and the fee pool are zeroed.
func (l *Ledger) EmptyAccount(ctx context.Context, caller, destination Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.onlyOwner(caller); err != nil {
		return 0, l.reject("empty", caller, err)
	}
	if l.meta.State != StateKilled {
		return 0, l.reject("empty", caller, fmt.Errorf("%w: cannot empty while %s", ErrInvalidState, l.meta.State))
	}
	if destination.IsZero() {
		return 0, l.reject("empty", caller, fmt.Errorf("destination: %w", ErrNullAddress))
	}

	t := l.begin()
	amount := t.meta.Held
	var err error
	if t.meta.TotalPaid, err = add(t.meta.TotalPaid, amount); err != nil {
		return 0, fmt.Errorf("paid: %w", err)
	}
	t.meta.Held = 0
	t.meta.FeePool = 0
	for c, d := range l.deposits {
		if d.Open() {
			d.Amount = 0
			t.put(c, d)
		}
	}
	t.emit(EventAccountEmptied, caller, destination, Commitment{}, amount)
	if err := l.commit(ctx, t, destination, amount); err != nil {
		return 0, err
	}
	l.logger.Info("Account emptied", zap.Stringer("destination", destination), zap.Uint64("amount", amount))
	return amount, nil
}

func (l *Ledger) onlyOwner(caller Address) error {
	if caller != l.meta.Owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller)
	}
	return nil
}

// requireUsable gates every deposit operation on the lifecycle.
func (l *Ledger) requireUsable() error {
	if l.meta.State != StateActive {
		return fmt.Errorf("%w: ledger is %s", ErrSystemPaused, l.meta.State)
	}
	return nil
}
