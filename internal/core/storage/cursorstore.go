package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Cursor-slot keys. The daemon owns the cursor slot exclusively; the paused
// slot is a manual kill switch read at the top of every tick.
const (
	CursorKey = "daemon/cursor"
	PausedKey = "daemon/paused"
)

// Value-log GC cadence for the cursor store. Cursor blobs are small and
// rewritten every tick, so a modest interval keeps the log bounded.
const (
	cursorGCInterval     = 5 * time.Minute
	cursorGCDiscardRatio = 0.5
)

// CursorStore is a small embedded key/value store holding the daemon cursor
// blob and related control slots. Backed by badger; an empty path opens an
// in-memory store for tests.
type CursorStore struct {
	db     *badger.DB
	logger *slog.Logger
	gcStop chan struct{}
	gcDone chan struct{}
}

// badgerLogger bridges badger's printf-style logger onto slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenCursorStore opens the cursor store at the given directory, creating it
// when absent. An empty path opens an in-memory store. Persistent stores run
// a value-log GC goroutine until Close; badger does not support GC in
// in-memory mode.
func OpenCursorStore(path string, logger *slog.Logger) (*CursorStore, error) {
	logger = logger.With("component", "cursorstore")

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}

	store := &CursorStore{db: bdb, logger: logger}
	if path != "" {
		store.gcStop = make(chan struct{})
		store.gcDone = make(chan struct{})
		go store.runGC()
	}
	return store, nil
}

// Get reads the requested slots. Absent keys are simply missing from the
// result, never an error.
func (c *CursorStore) Get(ctx context.Context, keys []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	err := c.db.View(func(txn *badger.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[key] = string(value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cursor store get: %w", err)
	}
	return out, nil
}

// Set writes all given slots in one transaction.
func (c *CursorStore) Set(ctx context.Context, pairs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		for key, value := range pairs {
			if err := txn.Set([]byte(key), []byte(value)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cursor store set: %w", err)
	}
	return nil
}

// Delete removes the given slots. Absent keys are a no-op.
func (c *CursorStore) Delete(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cursor store delete: %w", err)
	}
	return nil
}

// Close stops the GC goroutine and closes the underlying store.
func (c *CursorStore) Close() error {
	if c.gcStop != nil {
		close(c.gcStop)
		<-c.gcDone
	}
	return c.db.Close()
}

func (c *CursorStore) runGC() {
	defer close(c.gcDone)

	ticker := time.NewTicker(cursorGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect.
			err := c.db.RunValueLogGC(cursorGCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				c.logger.Warn("cursor store value log GC failed", "error", err)
			}
		}
	}
}
