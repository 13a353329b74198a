// Package storage selects and opens the durable backend behind a ledger.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/config"
	"github.com/kittykatsky/Remittance/internal/ledger"
	"github.com/kittykatsky/Remittance/internal/storage/local"
)

const (
	BackendPebble = "pebble"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// ErrUnknownBackend is returned by Open for an unsupported storage.backend.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Open creates and opens the backend named by cfg.Backend.
func Open(cfg config.StorageConfig, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Backend {
	case BackendPebble, "":
		s := local.NewPebbleStorage(cfg.Path, logger)
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("pebble storage init: %w", err)
		}
		return s, nil
	case BackendBolt:
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("bolt storage dir: %w", err)
		}
		s := local.NewBoltStorage(filepath.Join(cfg.Path, "ledger.db"), logger)
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("bolt storage init: %w", err)
		}
		return s, nil
	case BackendMemory:
		logger.Warn("Using in-memory storage, ledger state is lost on exit")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %s (use 'pebble', 'bolt' or 'memory')", ErrUnknownBackend, cfg.Backend)
	}
}

// Memory is an in-process ledger.Store.
type Memory struct {
	mu       sync.RWMutex
	meta     *ledger.Meta
	deposits map[ledger.Commitment]ledger.Deposit
	events   map[uint64]ledger.Event
	// FailCommit, when set, is returned by the next Commit call and cleared.
	FailCommit error
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		deposits: make(map[ledger.Commitment]ledger.Deposit),
		events:   make(map[uint64]ledger.Event),
	}
}

func (m *Memory) Load() (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta == nil {
		return nil, nil
	}
	snap := &ledger.Snapshot{Meta: *m.meta, Deposits: make(map[ledger.Commitment]ledger.Deposit, len(m.deposits))}
	for c, d := range m.deposits {
		snap.Deposits[c] = d
	}
	return snap, nil
}

func (m *Memory) Commit(b *ledger.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailCommit; err != nil {
		m.FailCommit = nil
		return err
	}
	meta := b.Meta
	m.meta = &meta
	for c, d := range b.Deposits {
		m.deposits[c] = d
	}
	for _, e := range b.Events {
		m.events[e.Seq] = e
	}
	for _, seq := range b.DropEvents {
		delete(m.events, seq)
	}
	return nil
}

func (m *Memory) Events(from uint64, limit int) ([]ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seqs := make([]uint64, 0, len(m.events))
	for seq := range m.events {
		if seq >= from {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if limit > 0 && len(seqs) > limit {
		seqs = seqs[:limit]
	}
	events := make([]ledger.Event, 0, len(seqs))
	for _, seq := range seqs {
		events = append(events, m.events[seq])
	}
	return events, nil
}

func (m *Memory) Close() error { return nil }
