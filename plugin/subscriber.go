package plugin

import "context"

// Subscriber adapts plain functions to the entitlement hooks so UI code can
// observe balance and VIP changes without declaring a plugin type.
// Nil callbacks are skipped.
type Subscriber struct {
	ID       string
	Balance  func(ctx context.Context, change BalanceChange)
	VIP      func(ctx context.Context, change VIPChange)
	Restored func(ctx context.Context, summary RestoreSummary)
}

var (
	_ OnBalanceChanged   = (*Subscriber)(nil)
	_ OnVIPChanged       = (*Subscriber)(nil)
	_ OnRestoreCompleted = (*Subscriber)(nil)
)

func (s *Subscriber) Name() string { return s.ID }

func (s *Subscriber) OnBalanceChanged(ctx context.Context, change BalanceChange) error {
	if s.Balance != nil {
		s.Balance(ctx, change)
	}
	return nil
}

func (s *Subscriber) OnVIPChanged(ctx context.Context, change VIPChange) error {
	if s.VIP != nil {
		s.VIP(ctx, change)
	}
	return nil
}

func (s *Subscriber) OnRestoreCompleted(ctx context.Context, summary RestoreSummary) error {
	if s.Restored != nil {
		s.Restored(ctx, summary)
	}
	return nil
}
