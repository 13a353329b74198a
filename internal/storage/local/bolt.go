package local

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/ledger"
)

var (
	bucketMeta     = []byte("meta")
	bucketDeposits = []byte("deposits")
	bucketEvents   = []byte("events")
)

// BoltStorage is a bbolt backed ledger.Store. Every commit is a single
// read-write transaction.
type BoltStorage struct {
	db     *bolt.DB
	path   string
	logger *zap.Logger
}

// NewBoltStorage creates a BoltStorage instance (not yet opened).
func NewBoltStorage(path string, logger *zap.Logger) *BoltStorage {
	return &BoltStorage{path: path, logger: logger}
}

// Init opens the database file and creates the buckets.
func (s *BoltStorage) Init() error {
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return fmt.Errorf("open bbolt %s: %w", s.path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketDeposits, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db
	s.logger.Info("Bolt storage opened", zap.String("path", s.path))
	return nil
}

func (s *BoltStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStorage) Load() (*ledger.Snapshot, error) {
	var snap *ledger.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyMeta)
		if raw == nil {
			return nil
		}
		meta, err := decodeMeta(raw)
		if err != nil {
			return err
		}
		snap = &ledger.Snapshot{Meta: meta, Deposits: make(map[ledger.Commitment]ledger.Deposit)}
		return tx.Bucket(bucketDeposits).ForEach(func(k, v []byte) error {
			var c ledger.Commitment
			copy(c[:], k)
			d, err := decodeDeposit(v)
			if err != nil {
				return fmt.Errorf("deposit %s: %w", c, err)
			}
			snap.Deposits[c] = d
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt load: %w", err)
	}
	return snap, nil
}

func (s *BoltStorage) Commit(b *ledger.Batch) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketMeta).Put(keyMeta, encodeMeta(b.Meta)); err != nil {
			return err
		}
		deposits := tx.Bucket(bucketDeposits)
		for c, d := range b.Deposits {
			if err := deposits.Put(c[:], encodeDeposit(d)); err != nil {
				return err
			}
		}
		events := tx.Bucket(bucketEvents)
		for _, e := range b.Events {
			if err := events.Put(seqKey(e.Seq), encodeEvent(e)); err != nil {
				return err
			}
		}
		for _, seq := range b.DropEvents {
			if err := events.Delete(seqKey(seq)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt update: %w", err)
	}
	return nil
}

func (s *BoltStorage) Events(from uint64, limit int) ([]ledger.Event, error) {
	var events []ledger.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(from)); k != nil && (limit <= 0 || len(events) < limit); k, v = c.Next() {
			e, err := decodeEvent(v)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt events: %w", err)
	}
	return events, nil
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}
