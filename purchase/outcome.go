package purchase

import (
	"time"

	"github.com/xraph/purse/entitlement"
	"github.com/xraph/purse/id"
	"github.com/xraph/purse/reconcile"
)

// Status is the result of a purchase request as seen by its caller.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	// StatusDuplicate: the store reported a purchase already applied.
	StatusDuplicate Status = "duplicate"
	// StatusDeferred: awaiting approval. The entitlement is granted later,
	// when the store resolves the transaction.
	StatusDeferred Status = "deferred"
	StatusFailed   Status = "failed"
	// StatusRejected: the store sold a product the catalog does not know.
	StatusRejected Status = "rejected"
)

var statusByDisposition = map[reconcile.Disposition]Status{
	reconcile.Applied:   StatusSucceeded,
	reconcile.Duplicate: StatusDuplicate,
	reconcile.Deferred:  StatusDeferred,
	reconcile.Failed:    StatusFailed,
	reconcile.Rejected:  StatusRejected,
	reconcile.Error:     StatusFailed,
}

// Outcome is the resolution of one purchase request.
type Outcome struct {
	RequestID     id.RequestID
	TransactionID string
	ProductID     string
	Status        Status
	Receipt       *entitlement.Receipt
	Err           error
}

func outcomeFor(requestID id.RequestID, res *reconcile.Result) *Outcome {
	return &Outcome{
		RequestID:     requestID,
		TransactionID: res.Transaction.ID,
		ProductID:     res.Transaction.Payment.ProductID,
		Status:        statusByDisposition[res.Disposition],
		Receipt:       res.Receipt,
		Err:           res.Err,
	}
}

// RestoreOutcome summarizes one restore run.
type RestoreOutcome struct {
	RequestID   id.RequestID
	Redelivered int
	Applied     int
	Duplicates  int
	Rejected    int
	Failed      int
	Results     []*reconcile.Result
	Elapsed     time.Duration
}

// NothingToRestore reports whether the store had no purchases to
// redeliver.
func (o *RestoreOutcome) NothingToRestore() bool { return o.Redelivered == 0 }

func (o *RestoreOutcome) add(res *reconcile.Result) {
	o.Redelivered++
	o.Results = append(o.Results, res)
	switch res.Disposition {
	case reconcile.Applied:
		o.Applied++
	case reconcile.Duplicate:
		o.Duplicates++
	case reconcile.Rejected:
		o.Rejected++
	default:
		o.Failed++
	}
}
