// Package local provides the on-disk ledger stores: Pebble and bbolt.
package local

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

// PebbleStorage is a Pebble LSM-tree backed ledger.Store.
type PebbleStorage struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// NewPebbleStorage creates a PebbleStorage instance (not yet opened).
func NewPebbleStorage(dbPath string, logger *zap.Logger) *PebbleStorage {
	return &PebbleStorage{
		path:   dbPath,
		logger: logger,
	}
}

// Init opens the Pebble database.
func (p *PebbleStorage) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{p.logger},
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("pebble open %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Info("Pebble storage opened", zap.String("path", p.path))
	return nil
}

// Close flushes and closes the database.
func (p *PebbleStorage) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// Load reads the meta record and every deposit.
func (p *PebbleStorage) Load() (*ledger.Snapshot, error) {
	data, closer, err := p.db.Get(keyMeta)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get meta: %w", err)
	}
	meta, err := decodeMeta(data)
	closer.Close()
	if err != nil {
		return nil, err
	}

	snap := &ledger.Snapshot{Meta: meta, Deposits: make(map[ledger.Commitment]ledger.Deposit)}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixDeposit,
		UpperBound: prefixEnd(prefixDeposit),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var c ledger.Commitment
		copy(c[:], iter.Key()[len(prefixDeposit):])
		d, err := decodeDeposit(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("deposit %s: %w", c, err)
		}
		snap.Deposits[c] = d
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Commit writes b as one synced batch.
func (p *PebbleStorage) Commit(b *ledger.Batch) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(keyMeta, encodeMeta(b.Meta), nil); err != nil {
		return fmt.Errorf("pebble batch meta: %w", err)
	}
	for c, d := range b.Deposits {
		if err := batch.Set(depositKey(c), encodeDeposit(d), nil); err != nil {
			return fmt.Errorf("pebble batch deposit: %w", err)
		}
	}
	for _, e := range b.Events {
		if err := batch.Set(eventKey(e.Seq), encodeEvent(e), nil); err != nil {
			return fmt.Errorf("pebble batch event: %w", err)
		}
	}
	for _, seq := range b.DropEvents {
		if err := batch.Delete(eventKey(seq), nil); err != nil {
			return fmt.Errorf("pebble batch drop event: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebble commit: %w", err)
	}
	return nil
}

// Events returns up to limit events with sequence number >= from.
func (p *PebbleStorage) Events(from uint64, limit int) ([]ledger.Event, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: prefixEnd(prefixEvent),
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var events []ledger.Event
	for iter.First(); iter.Valid() && (limit <= 0 || len(events) < limit); iter.Next() {
		e, err := decodeEvent(iter.Value())
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return events, nil
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
