package statedb

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
)

// ErrClosed is returned when the database is used after Close.
var ErrClosed = errors.New("state database closed")

// ColumnFamily namespaces keys. It is the first byte of every stored key.
type ColumnFamily byte

// DB wraps a badger database.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a state database in dir. An empty dir opens an
// in-memory database.
func Open(dir string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "statedb")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerAdapter{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*DB, error) {
	return Open("", logger)
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil || d.db.IsClosed() {
		return nil
	}
	return d.db.Close()
}

// Begin starts a read-write transaction.
func (d *DB) Begin() (*Txn, error) {
	if d.db.IsClosed() {
		return nil, ErrClosed
	}
	return &Txn{txn: d.db.NewTransaction(true)}, nil
}

// View runs fn in a read-only transaction.
func (d *DB) View(fn func(txn *Txn) error) error {
	if d.db.IsClosed() {
		return ErrClosed
	}
	return d.db.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
}

// DropAll deletes every key. Used to rebuild state from the log.
func (d *DB) DropAll() error {
	if err := d.db.DropAll(); err != nil {
		return fmt.Errorf("drop state: %w", err)
	}
	return nil
}

// badgerAdapter routes badger's internal logging through slog.
type badgerAdapter struct {
	logger *slog.Logger
}

func (b *badgerAdapter) Errorf(format string, args ...interface{}) {
	b.logger.Error(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Warningf(format string, args ...interface{}) {
	b.logger.Warn(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Infof(format string, args ...interface{}) {
	b.logger.Debug(fmt.Sprintf(format, args...))
}

func (b *badgerAdapter) Debugf(format string, args ...interface{}) {
}
