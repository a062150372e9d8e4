package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is the embedded backend. Runs and suspensions are JSON values under
// prefixed keys. Writes are serialized so a losing concurrent resume surfaces
// as ErrConflict instead of a transaction retry.
type Badger struct {
	db *badger.DB
	mu sync.Mutex
}

const (
	runKeyPrefix  = "run/"
	suspKeyPrefix = "susp/"
)

// OpenBadger opens (or creates) the database at dir. An empty dir selects an
// in-memory database, which is what the tests use.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error { return b.db.Close() }

func (b *Badger) CreateRun(ctx context.Context, run WorkflowRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := []byte(runKeyPrefix + run.RunID)
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, run)
	})
}

func (b *Badger) GetRun(ctx context.Context, runID string) (WorkflowRun, error) {
	var run WorkflowRun
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(runKeyPrefix+runID), &run)
	})
	return run, err
}

func (b *Badger) UpdateRun(ctx context.Context, run WorkflowRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := []byte(runKeyPrefix + run.RunID)
	return b.db.Update(func(txn *badger.Txn) error {
		var existing WorkflowRun
		if err := getJSON(txn, key, &existing); err != nil {
			return err
		}
		run.CreatedAt = existing.CreatedAt
		run.UpdatedAt = time.Now().UTC()
		return setJSON(txn, key, run)
	})
}

func (b *Badger) Suspend(ctx context.Context, runID, stepID string, payload json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		var run WorkflowRun
		if err := getJSON(txn, []byte(runKeyPrefix+runID), &run); err != nil {
			return err
		}
		return setJSON(txn, []byte(suspKeyPrefix+runID), Suspension{
			RunID:       runID,
			StepID:      stepID,
			Payload:     payload,
			Active:      true,
			SuspendedAt: time.Now().UTC(),
		})
	})
}

func (b *Badger) GetSuspension(ctx context.Context, runID string) (Suspension, error) {
	var s Suspension
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(suspKeyPrefix+runID), &s)
	})
	return s, err
}

func (b *Badger) Resume(ctx context.Context, runID, stepID string, resumePayload json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Update(func(txn *badger.Txn) error {
		key := []byte(suspKeyPrefix + runID)
		var s Suspension
		if err := getJSON(txn, key, &s); err != nil {
			return err
		}
		if !s.Active || s.StepID != stepID {
			return ErrConflict
		}
		now := time.Now().UTC()
		s.Active = false
		s.ResumePayload = resumePayload
		s.ResumedAt = &now
		return setJSON(txn, key, s)
	})
}

func (b *Badger) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]Suspension, error) {
	var out []Suspension
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(suspKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s Suspension
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			if s.Active && s.SuspendedAt.Before(cutoff) {
				out = append(out, s)
			}
		}
		return nil
	})
	return out, err
}

func getJSON(txn *badger.Txn, key []byte, dst interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}
