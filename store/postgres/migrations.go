package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the purse store.
var Migrations = migrate.NewGroup("purse")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_purse_entitlements",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS purse_entitlements (
    user_id       TEXT PRIMARY KEY,
    coin_balance  BIGINT NOT NULL DEFAULT 0 CHECK (coin_balance >= 0),
    vip_expiry_ns BIGINT,
    receipts      JSONB NOT NULL DEFAULT '[]',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS purse_entitlements`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "index_purse_receipt_keys",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE INDEX IF NOT EXISTS idx_purse_entitlements_receipts
    ON purse_entitlements USING GIN (receipts jsonb_path_ops);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP INDEX IF EXISTS idx_purse_entitlements_receipts`)
				return err
			},
		},
	)
}
