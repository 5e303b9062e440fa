// Package docstore keeps JSON documents in an embedded BadgerDB.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("document not found")

const maxUpdateAttempts = 3

type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

func Open(dataDir string, logger *zap.Logger) (*Store, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	opts := badger.DefaultOptions(absPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("document store opened", zap.String("path", absPath))
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory is used by tests and throwaway runs.
func OpenInMemory(logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key, value)
	})
}

func (s *Store) Put(ctx context.Context, key string, value any) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Put(key, value)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// Keys lists keys under prefix in key order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	return keys, nil
}

// Scan calls fn with the key and raw JSON of every document under prefix.
func (s *Store) Scan(ctx context.Context, prefix string, fn func(key string, raw []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&Tx{txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("document store conflict, retrying", zap.Int("attempt", attempt))
		if attempt < maxUpdateAttempts {
			time.Sleep(time.Duration(attempt) * 25 * time.Millisecond)
		}
	}
	return err
}

// StartGC runs value-log garbage collection until ctx is done.
func (s *Store) StartGC(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					s.logger.Warn("value log gc failed", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Info("document store gc started", zap.Duration("interval", interval))
}

// Tx is a read-write view handed to Update callbacks.
type Tx struct {
	txn *badger.Txn
}

func (t *Tx) Get(key string, value any) error {
	return getJSON(t.txn, key, value)
}

func (t *Tx) Exists(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return t.txn.Set([]byte(key), data)
}

// Scan is Store.Scan inside the transaction, so the documents it reads take
// part in conflict detection.
func (t *Tx) Scan(prefix string, fn func(key string, raw []byte) error) error {
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(string(item.KeyCopy(nil)), raw); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

func getJSON(txn *badger.Txn, key string, value any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(raw []byte) error {
		return json.Unmarshal(raw, value)
	})
}

// Key joins key segments with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
