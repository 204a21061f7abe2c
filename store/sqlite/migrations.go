package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the purse store (SQLite).
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
    coin_balance  INTEGER NOT NULL DEFAULT 0 CHECK (coin_balance >= 0),
    vip_expiry_ns INTEGER,
    receipts      TEXT NOT NULL DEFAULT '[]',
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS purse_entitlements`)
				return err
			},
		},
	)
}
