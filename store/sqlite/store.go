// Package sqlite implements store.Store on SQLite through grove. It is the
// on-device backend: one row per user in purse_entitlements.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	pursestore "github.com/xraph/purse/store"
)

// compile-time interface check
var _ pursestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// FileName is the database file Open creates inside a data directory.
const FileName = "purse.db"

// Open connects to the database file FileName under dir, creating the
// directory if needed. The caller still runs Migrate before first use.
func Open(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("purse/sqlite: create data dir: %w", err)
	}
	drv := sqlitedriver.New()
	if err := drv.Open(ctx, filepath.Join(dir, FileName)); err != nil {
		return nil, fmt.Errorf("purse/sqlite: open: %w", err)
	}
	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("purse/sqlite: open: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("purse/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("purse/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Entitlement Store ====================

func (s *Store) GetState(ctx context.Context, userID id.UserID) (*entitlement.State, error) {
	m := new(entitlementModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitlement.ErrNotFound
		}
		return nil, fmt.Errorf("purse/sqlite: get state: %w", err)
	}
	return fromEntitlementModel(m)
}

// SaveState upserts the whole record in a single statement, so the balance,
// the VIP window and the receipt journal always change together.
func (s *Store) SaveState(ctx context.Context, st *entitlement.State) error {
	m, err := toEntitlementModel(st)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).
		OnConflict("(user_id) DO UPDATE").
		Set("coin_balance = EXCLUDED.coin_balance").
		Set("vip_expiry_ns = EXCLUDED.vip_expiry_ns").
		Set("receipts = EXCLUDED.receipts").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/sqlite: save state: %w", err)
	}
	return nil
}

func (s *Store) DeleteState(ctx context.Context, userID id.UserID) error {
	res, err := s.sdb.NewDelete((*entitlementModel)(nil)).
		Where("user_id = ?", userID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/sqlite: delete state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return entitlement.ErrNotFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
