// Package badger provides a Badger-based implementation of the storage interface.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/goclaw/conductor/pkg/execution"
	"github.com/goclaw/conductor/pkg/storage"
)

const (
	dataPrefix        = "execution:data:"
	statusIndexPrefix = "execution:index:status:"
)

// Config holds configuration for BadgerStorage.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
}

// BadgerStorage implements storage.Store using Badger.
type BadgerStorage struct {
	db     *badger.DB
	config *Config
}

// NewBadgerStorage creates a new Badger storage instance.
func NewBadgerStorage(config *Config) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(config.Path)
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	return &BadgerStorage{
		db:     db,
		config: config,
	}, nil
}

func executionKey(id string) []byte {
	return []byte(dataPrefix + id)
}

func statusIndexKey(status execution.Status, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", statusIndexPrefix, status, id))
}

func serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &storage.SerializationError{
			Operation: "marshal",
			Cause:     err,
		}
	}
	return data, nil
}

func deserialize(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &storage.SerializationError{
			Operation: "unmarshal",
			Cause:     err,
		}
	}
	return nil
}

// Save persists a new execution under a fresh id.
func (b *BadgerStorage) Save(ctx context.Context, c *execution.Context) (string, error) {
	id := uuid.NewString()
	c.ExecutionID = id
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	data, err := serialize(c)
	if err != nil {
		return "", err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(executionKey(id), data); err != nil {
			return err
		}
		return txn.Set(statusIndexKey(c.Status, id), []byte{})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update replaces the execution stored under id and moves its status index entry.
func (b *BadgerStorage) Update(ctx context.Context, id string, c *execution.Context) error {
	c.ExecutionID = id
	data, err := serialize(c)
	if err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		previous, err := getInTxn(txn, id)
		if err != nil {
			return err
		}
		if previous.Status != c.Status {
			if err := txn.Delete(statusIndexKey(previous.Status, id)); err != nil {
				return err
			}
		}
		if err := txn.Set(executionKey(id), data); err != nil {
			return err
		}
		return txn.Set(statusIndexKey(c.Status, id), []byte{})
	})
}

// Fetch retrieves an execution by id.
func (b *BadgerStorage) Fetch(ctx context.Context, id string) (*execution.Context, error) {
	var c *execution.Context
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = getInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List lists executions. A status filter is served from the status index.
func (b *BadgerStorage) List(ctx context.Context, filter *storage.Filter) ([]*execution.Context, int, error) {
	var contexts []*execution.Context

	err := b.db.View(func(txn *badger.Txn) error {
		if filter != nil && len(filter.Status) > 0 {
			for _, status := range filter.Status {
				prefix := []byte(fmt.Sprintf("%s%s:", statusIndexPrefix, status))
				opts := badger.DefaultIteratorOptions
				opts.Prefix = prefix
				opts.PrefetchValues = false

				it := txn.NewIterator(opts)
				for it.Rewind(); it.Valid(); it.Next() {
					id := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
					c, err := getInTxn(txn, id)
					if err != nil {
						continue // index entry without record
					}
					contexts = append(contexts, c)
				}
				it.Close()
			}
			return nil
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(dataPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var c execution.Context
			err := it.Item().Value(func(val []byte) error {
				return deserialize(val, &c)
			})
			if err != nil {
				continue
			}
			contexts = append(contexts, &c)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	list, total := storage.Apply(contexts, filter)
	return list, total, nil
}

func getInTxn(txn *badger.Txn, id string) (*execution.Context, error) {
	item, err := txn.Get(executionKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, &storage.NotFoundError{
				EntityType: "execution",
				ID:         id,
			}
		}
		return nil, err
	}

	var c execution.Context
	if err := item.Value(func(val []byte) error {
		return deserialize(val, &c)
	}); err != nil {
		return nil, err
	}
	return &c, nil
}

// Close closes the Badger database.
func (b *BadgerStorage) Close() error {
	return b.db.Close()
}
