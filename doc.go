// Package purse provides the in-app commerce engine of a mobile
// application: it turns store purchase callbacks into a locally persisted
// economy of coins and a VIP subscription window.
//
// Purse is designed as a library, not a service. It provides:
//
//   - A product catalog mapping store product ids to their effect
//   - An entitlement ledger guarding a non-negative coin balance and an
//     additive VIP expiry
//   - Exactly-once reconciliation of store transactions, across redelivery
//     and process restarts
//   - Per-request correlation of purchase and restore outcomes
//   - Observer plugins for UI refresh, metrics and audit
//
// # Quick Start
//
// Create an engine with a store and a commerce client:
//
//	import (
//	    "github.com/xraph/purse"
//	    "github.com/xraph/purse/store/sqlite"
//	)
//
//	st, err := sqlite.Open(ctx, dataDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine := purse.New(st, storeClient,
//	    purse.WithUserID(userID),
//	    purse.WithLogger(logger),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Purchases
//
// RequestPurchase submits one payment and waits for its outcome. The
// entitlement is granted even if the caller stops waiting:
//
//	out, err := engine.RequestPurchase(ctx, catalog.Coins100)
//	switch {
//	case errors.Is(err, purse.ErrPaymentsDisabled):
//	    // tell the user
//	case err != nil:
//	    // out.Err carries the store's reason when the store failed it
//	case out.Status == purse.StatusDeferred:
//	    // awaiting approval; granted when the store resolves it
//	}
//
// # Spending
//
//	if _, err := engine.SpendCoins(ctx, 50, "gift"); errors.Is(err, purse.ErrInsufficientFunds) {
//	    // route the user to the coin store
//	}
//
// # Observing
//
//	unsubscribe, _ := engine.Subscribe(purse.Subscriber{
//	    Balance: func(ctx context.Context, c purse.BalanceChange) { refresh(c.After) },
//	})
//	defer unsubscribe()
//
// # TypeID
//
// Users, purchase requests and receipts use TypeIDs:
//
//	usr_01h2xcejqtf2nbrexx3vqjhp41   // User ID
//	req_01h2xcejqtf2nbrexx3vqjhp41   // Purchase or restore request
//	rcpt_01h455vb4pex5vsknk084sn02q  // Applied transaction receipt
package purse
