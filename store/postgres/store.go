// Package postgres implements store.Store on PostgreSQL through grove.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	pursestore "github.com/xraph/purse/store"
)

// compile-time interface check
var _ pursestore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("purse/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("purse/postgres: migration failed: %w", err)
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
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, entitlement.ErrNotFound
		}
		return nil, fmt.Errorf("purse/postgres: get state: %w", err)
	}
	return fromEntitlementModel(m)
}

func (s *Store) SaveState(ctx context.Context, st *entitlement.State) error {
	m, err := toEntitlementModel(st)
	if err != nil {
		return err
	}
	_, err = s.pg.NewInsert(m).
		OnConflict("(user_id) DO UPDATE").
		Set("coin_balance = EXCLUDED.coin_balance").
		Set("vip_expiry_ns = EXCLUDED.vip_expiry_ns").
		Set("receipts = EXCLUDED.receipts").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/postgres: save state: %w", err)
	}
	return nil
}

func (s *Store) DeleteState(ctx context.Context, userID id.UserID) error {
	res, err := s.pg.NewDelete((*entitlementModel)(nil)).
		Where("user_id = $1", userID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/postgres: delete state: %w", err)
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
