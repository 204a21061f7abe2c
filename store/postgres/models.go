package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/types"
)

type entitlementModel struct {
	grove.BaseModel `grove:"table:purse_entitlements"`

	UserID      string          `grove:"user_id,pk"`
	CoinBalance int64           `grove:"coin_balance"`
	VIPExpiryNs *int64          `grove:"vip_expiry_ns"`
	Receipts    json.RawMessage `grove:"receipts,type:jsonb"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
}

func toEntitlementModel(s *entitlement.State) (*entitlementModel, error) {
	receipts := s.Receipts
	if receipts == nil {
		receipts = []entitlement.Receipt{}
	}
	raw, err := json.Marshal(receipts)
	if err != nil {
		return nil, fmt.Errorf("purse/postgres: encode receipts: %w", err)
	}

	m := &entitlementModel{
		UserID:      s.UserID.String(),
		CoinBalance: s.CoinBalance,
		Receipts:    raw,
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
	if len(m.Receipts) > 0 {
		if err := json.Unmarshal(m.Receipts, &s.Receipts); err != nil {
			return nil, fmt.Errorf("purse/postgres: decode receipts: %w", err)
		}
		if len(s.Receipts) == 0 {
			s.Receipts = nil
		}
	}
	return s, nil
}
