// Package store persists grants, audit entries and drive settings in an
// embedded badger database.
package store

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"drivegate/pkg/audit"
	"drivegate/pkg/drive"
	"drivegate/pkg/permission"
)

var (
	_ permission.GrantStore = (*Store)(nil)
	_ permission.GrantAdmin = (*Store)(nil)
	_ audit.Sink            = (*Store)(nil)
	_ audit.Reader          = (*Store)(nil)
	_ drive.ConfigStore     = (*Store)(nil)
)

type Options struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Store is a badger-backed GrantStore, audit Sink and ConfigStore.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens or creates the database described by opts.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("store directory is required")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}
	bopts = bopts.
		WithLogger(newBadgerLogger(logger)).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %q: %w", opts.Dir, err)
	}

	logger.Info("Opened store", zap.String("dir", opts.Dir), zap.Bool("in_memory", opts.InMemory))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte, v any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// scan calls fn for every record under prefix in key order.
func (s *Store) scan(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if n%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
