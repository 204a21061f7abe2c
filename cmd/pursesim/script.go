package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xraph/purse"
	"github.com/xraph/purse/appstore/sim"
)

const usage = `usage: pursesim [-env file] command [arg] [command [arg] ...]

commands:
  products        list the store's products
  buy <product>   purchase a product and wait for the outcome
  approve         approve every deferred purchase
  restore         restore completed purchases
  balance         print coin balance and VIP status
  spend <coins>   spend coins
  chat            charge one chat message (free for VIP)
  receipts        list applied transactions
`

// runner executes a command script against one engine session.
type runner struct {
	engine  *purse.Engine
	store   *sim.Store
	out     io.Writer
	timeout time.Duration
}

var errUsage = errors.New("invalid command line")

func (r *runner) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	for i := 0; i < len(args); i++ {
		cmd := args[i]
		arg := ""
		if cmd == "buy" || cmd == "spend" {
			if i+1 >= len(args) {
				return fmt.Errorf("%w: %s needs an argument", errUsage, cmd)
			}
			i++
			arg = args[i]
		}
		if err := r.exec(ctx, cmd, arg); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

func (r *runner) exec(ctx context.Context, cmd, arg string) error {
	switch cmd {
	case "products":
		return r.products(ctx)
	case "buy":
		return r.buy(ctx, arg)
	case "approve":
		return r.approve()
	case "restore":
		return r.restore(ctx)
	case "balance":
		r.balance()
		return nil
	case "spend":
		return r.spend(ctx, arg)
	case "chat":
		return r.chat(ctx)
	case "receipts":
		r.receipts()
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (r *runner) products(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	products, err := r.engine.FetchProducts(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		fmt.Fprintf(r.out, "%-22s %-10s %s\n", p.ID, p.DisplayPrice(), p.Description)
	}
	return nil
}

func (r *runner) buy(ctx context.Context, productID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.engine.RequestPurchase(ctx, productID)
	if err != nil {
		return err
	}

	switch out.Status {
	case purse.StatusDeferred:
		fmt.Fprintf(r.out, "%s: awaiting approval (transaction %s)\n", productID, out.TransactionID)
	case purse.StatusFailed:
		fmt.Fprintf(r.out, "%s: failed: %v\n", productID, out.Err)
	default:
		fmt.Fprintf(r.out, "%s: %s\n", productID, out.Status)
	}
	r.balance()
	return nil
}

func (r *runner) approve() error {
	pending := r.store.Deferred()
	for _, txnID := range pending {
		if err := r.store.Resolve(txnID, sim.Approve); err != nil {
			return err
		}
	}
	r.store.Wait()
	fmt.Fprintf(r.out, "approved %d deferred purchase(s)\n", len(pending))
	r.balance()
	return nil
}

func (r *runner) restore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.engine.RequestRestore(ctx)
	if err != nil {
		return err
	}
	if out.NothingToRestore() {
		fmt.Fprintln(r.out, "nothing to restore")
		return nil
	}
	fmt.Fprintf(r.out, "restored %d purchase(s): %d applied, %d already applied, %d rejected, %d failed\n",
		out.Redelivered, out.Applied, out.Duplicates, out.Rejected, out.Failed)
	r.balance()
	return nil
}

func (r *runner) balance() {
	fmt.Fprintf(r.out, "coins: %d | %s\n", r.engine.CoinsBalance(), r.engine.VIPExpiryDisplay())
}

func (r *runner) spend(ctx context.Context, arg string) error {
	amount, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a coin amount", errUsage, arg)
	}
	balance, err := r.engine.SpendCoins(ctx, amount, "cli")
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "spent %d coins, %d left\n", amount, balance)
	return nil
}

func (r *runner) chat(ctx context.Context) error {
	charged, balance, err := r.engine.ChargeMessage(ctx)
	if err != nil {
		return err
	}
	if !charged {
		fmt.Fprintln(r.out, "message sent (VIP)")
		return nil
	}
	fmt.Fprintf(r.out, "message sent, %d coins left\n", balance)
	return nil
}

func (r *runner) receipts() {
	receipts := r.engine.Receipts()
	if len(receipts) == 0 {
		fmt.Fprintln(r.out, "no receipts")
		return
	}
	for _, rc := range receipts {
		effect := fmt.Sprintf("+%d coins", rc.Coins)
		if rc.Days > 0 {
			effect = fmt.Sprintf("+%d VIP days", rc.Days)
		}
		fmt.Fprintf(r.out, "%s  %-22s %-16s %-9s %s\n",
			rc.AppliedAt.Format(time.RFC3339), rc.ProductID, effect, rc.Origin, rc.TransactionKey)
	}
}
