package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/types"
)

type entitlementModel struct {
	grove.BaseModel `grove:"table:purse_entitlements"`

	UserID      string         `grove:"id,pk"         bson:"_id"`
	CoinBalance int64          `grove:"coin_balance"  bson:"coin_balance"`
	VIPExpiryNs *int64         `grove:"vip_expiry_ns" bson:"vip_expiry_ns,omitempty"`
	Receipts    []receiptModel `grove:"receipts"      bson:"receipts"`
	CreatedAt   time.Time      `grove:"created_at"    bson:"created_at"`
	UpdatedAt   time.Time      `grove:"updated_at"    bson:"updated_at"`
}

// receiptModel keeps applied_at as Unix nanoseconds; BSON dates only
// carry milliseconds.
type receiptModel struct {
	ID             string `bson:"id"`
	TransactionKey string `bson:"transaction_key"`
	TransactionID  string `bson:"transaction_id"`
	ProductID      string `bson:"product_id"`
	Origin         string `bson:"origin"`
	Coins          int64  `bson:"coins"`
	Days           int    `bson:"days"`
	AppliedAtNs    int64  `bson:"applied_at_ns"`
}

func toEntitlementModel(s *entitlement.State) *entitlementModel {
	m := &entitlementModel{
		UserID:      s.UserID.String(),
		CoinBalance: s.CoinBalance,
		Receipts:    make([]receiptModel, 0, len(s.Receipts)),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.VIPExpiry != nil {
		ns := s.VIPExpiry.UnixNano()
		m.VIPExpiryNs = &ns
	}
	for _, r := range s.Receipts {
		m.Receipts = append(m.Receipts, receiptModel{
			ID:             r.ID.String(),
			TransactionKey: r.TransactionKey,
			TransactionID:  r.TransactionID,
			ProductID:      r.ProductID,
			Origin:         string(r.Origin),
			Coins:          r.Coins,
			Days:           r.Days,
			AppliedAtNs:    r.AppliedAt.UnixNano(),
		})
	}
	return m
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
	for _, r := range m.Receipts {
		rid, err := id.ParseReceiptID(r.ID)
		if err != nil {
			return nil, err
		}
		s.Receipts = append(s.Receipts, entitlement.Receipt{
			ID:             rid,
			TransactionKey: r.TransactionKey,
			TransactionID:  r.TransactionID,
			ProductID:      r.ProductID,
			Origin:         entitlement.Origin(r.Origin),
			Coins:          r.Coins,
			Days:           r.Days,
			AppliedAt:      time.Unix(0, r.AppliedAtNs).UTC(),
		})
	}
	return s, nil
}
