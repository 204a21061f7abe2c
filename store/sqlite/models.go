package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/types"
)

// entitlementModel stores vip_expiry as Unix nanoseconds so a reload
// yields the exact instant that was saved.
type entitlementModel struct {
	grove.BaseModel `grove:"table:purse_entitlements"`

	UserID      string    `grove:"user_id,pk"`
	CoinBalance int64     `grove:"coin_balance"`
	VIPExpiryNs *int64    `grove:"vip_expiry_ns"`
	Receipts    string    `grove:"receipts"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toEntitlementModel(s *entitlement.State) (*entitlementModel, error) {
	receipts, err := json.Marshal(s.Receipts)
	if err != nil {
		return nil, fmt.Errorf("purse/sqlite: encode receipts: %w", err)
	}

	m := &entitlementModel{
		UserID:      s.UserID.String(),
		CoinBalance: s.CoinBalance,
		Receipts:    string(receipts),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.VIPExpiry != nil {
		ns := s.VIPExpiry.UnixNano()
		m.VIPExpiryNs = &ns
	}
	return m, nil
}

func fromEntitlementModel(m *entitlementModel) (*entitlement.State, error) {
	userID, err := id.ParseUserID(m.UserID)
	if err != nil {
		return nil, err
	}

	s := &entitlement.State{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		UserID:      userID,
		CoinBalance: m.CoinBalance,
	}
	if m.VIPExpiryNs != nil {
		exp := time.Unix(0, *m.VIPExpiryNs).UTC()
		s.VIPExpiry = &exp
	}
	if m.Receipts != "" && m.Receipts != "null" {
		if err := json.Unmarshal([]byte(m.Receipts), &s.Receipts); err != nil {
			return nil, fmt.Errorf("purse/sqlite: decode receipts: %w", err)
		}
	}
	return s, nil
}
