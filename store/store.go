// Package store defines the unified persistence contract for purse.
package store

import (
	"context"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
)

// Store is the unified storage interface implemented by every backend.
type Store interface {
	// Entitlement methods
	GetState(ctx context.Context, userID id.UserID) (*entitlement.State, error)
	SaveState(ctx context.Context, s *entitlement.State) error
	DeleteState(ctx context.Context, userID id.UserID) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
