package metastore

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dmc-network/dsg-miner/types"
)

// Store is the Meta Store connection factory. Its own *gorm.DB is never
// used for mutation directly; callers always go through Begin/WithTxn so
// every mutating sequence is transactional.
type Store struct {
	db     *gorm.DB
	locker *Locker
}

// Open creates a Store backed by the sqlite file at path (":memory:" for
// an in-process ephemeral store, used by tests).
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.Fatal, fmt.Errorf("metastore: open %s: %w", path, err))
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, types.NewError(types.Fatal, fmt.Errorf("metastore: migrate: %w", err))
	}
	return &Store{db: db, locker: NewLocker()}, nil
}

// Txn is an owned handle over one gorm transaction. Its destruction path
// (Close, deferred by every caller) rolls back unless Commit was already
// observed — Go has no destructors, so this models spec.md §9's "rollback
// on drop" guarantee as an explicit defer-Close convention instead.
type Txn struct {
	tx        *gorm.DB
	committed bool
}

// Begin starts a new transaction. Callers must `defer txn.Close()`
// immediately after a successful Begin.
func (s *Store) Begin(ctx context.Context) (*Txn, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, types.NewError(types.Fatal, tx.Error)
	}
	return &Txn{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Txn) Commit() error {
	if err := t.tx.Commit().Error; err != nil {
		return types.NewError(types.Fatal, err)
	}
	t.committed = true
	return nil
}

// Rollback explicitly rolls back the transaction.
func (t *Txn) Rollback() error {
	if t.committed {
		return nil
	}
	return t.tx.Rollback().Error
}

// Close rolls back the transaction unless Commit was already called. It
// is always safe to call, and callers always defer it right after Begin.
func (t *Txn) Close() {
	if !t.committed {
		t.tx.Rollback()
	}
}

// WithTxn runs fn inside a transaction, committing on a nil return and
// rolling back on any error or panic. This is the primitive spec.md §9
// calls for in languages without deterministic destructors: the owned
// handle's rollback-on-all-exit-paths guarantee, expressed as a
// higher-order function instead of relying on Go to run cleanup for us.
func (s *Store) WithTxn(ctx context.Context, fn func(*Txn) error) (err error) {
	txn, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.Close()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// Locker returns the store's per-contract named-mutex coordinator.
func (s *Store) Locker() *Locker {
	return s.locker
}
