package entitlement

import (
	"context"
	"errors"

	"github.com/xraph/purse/id"
)

// ErrNotFound is returned by stores when no record exists for a user.
var ErrNotFound = errors.New("purse: entitlement state not found")

// Store persists one State record per user. SaveState writes the whole
// record, receipts included, as a single atomic upsert.
type Store interface {
	GetState(ctx context.Context, userID id.UserID) (*State, error)
	SaveState(ctx context.Context, s *State) error
	DeleteState(ctx context.Context, userID id.UserID) error
}
