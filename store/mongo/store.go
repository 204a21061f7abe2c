// Package mongo implements store.Store on MongoDB through grove.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	pursestore "github.com/xraph/purse/store"
)

const colEntitlements = "purse_entitlements"

// compile-time interface check
var _ pursestore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the purse collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("purse/mongo: migrate %s indexes: %w", col, err)
		}
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
	var m entitlementModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, entitlement.ErrNotFound
		}
		return nil, fmt.Errorf("purse/mongo: get state: %w", err)
	}
	return fromEntitlementModel(&m)
}

// SaveState replaces the user's document with a single upsert, which is
// atomic for one document.
func (s *Store) SaveState(ctx context.Context, st *entitlement.State) error {
	m := toEntitlementModel(st)

	set := bson.M{
		"coin_balance": m.CoinBalance,
		"receipts":     m.Receipts,
		"created_at":   m.CreatedAt,
		"updated_at":   m.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if m.VIPExpiryNs != nil {
		set["vip_expiry_ns"] = *m.VIPExpiryNs
	} else {
		update["$unset"] = bson.M{"vip_expiry_ns": ""}
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.UserID}).
		SetUpdate(update).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/mongo: save state: %w", err)
	}
	return nil
}

func (s *Store) DeleteState(ctx context.Context, userID id.UserID) error {
	res, err := s.mdb.NewDelete((*entitlementModel)(nil)).
		Filter(bson.M{"_id": userID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("purse/mongo: delete state: %w", err)
	}
	if res.DeletedCount() == 0 {
		return entitlement.ErrNotFound
	}
	return nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the purse collections.
// Receipt keys are indexed so support tooling can find which user a store
// transaction was applied to.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEntitlements: {
			{Keys: bson.D{{Key: "receipts.transaction_key", Value: 1}}},
			{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		},
	}
}
