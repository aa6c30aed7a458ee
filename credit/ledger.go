// Package credit provides credit admission control for advisor sends.
package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInsufficientCredit is returned when a balance cannot cover a cost.
var ErrInsufficientCredit = errors.New("insufficient credit")

// Transaction reasons.
const (
	// ReasonModeUse is recorded for reservations made by advisor sends.
	ReasonModeUse = "mode_use"
	// ReasonFreeTrialUse replaces ReasonModeUse on free-trial accounts.
	ReasonFreeTrialUse = "free_trial_use"
	// ReasonMonthlyReset is recorded when a balance is refilled to its allowance.
	ReasonMonthlyReset = "monthly_reset"
)

func useReason(freeTrial bool) string {
	if freeTrial {
		return ReasonFreeTrialUse
	}
	return ReasonModeUse
}

// ReserveRequest asks the authoritative ledger to deduct Cost.
type ReserveRequest struct {
	Cost int    `json:"cost"`
	Mode string `json:"mode"`
}

// ReserveResult carries the authoritative balance after a deduction.
type ReserveResult struct {
	Balance int `json:"balance"`
}

// Transaction is one recorded balance change.
type Transaction struct {
	ChangeAmount int       `json:"change_amount"`
	Reason       string    `json:"reason"`
	Mode         string    `json:"mode,omitempty"`
	At           time.Time `json:"at"`
}

// Ledger is the authoritative balance store.
type Ledger interface {
	// Balance returns the current authoritative balance.
	Balance(ctx context.Context) (int, error)
	// Reserve atomically deducts req.Cost or fails with ErrInsufficientCredit.
	Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error)
	// Transactions returns up to limit recorded changes, newest first.
	Transactions(ctx context.Context, limit int) ([]Transaction, error)
}

// Allowance describes a monthly credit refill.
type Allowance struct {
	Monthly     int       `json:"monthly_allowance"`
	LastResetAt time.Time `json:"last_reset_at"`
}

// NextResetAt is one calendar month after the last reset, or zero when the
// account has no allowance.
func (a Allowance) NextResetAt() time.Time {
	if a.Monthly <= 0 || a.LastResetAt.IsZero() {
		return time.Time{}
	}
	return a.LastResetAt.AddDate(0, 1, 0)
}

// Due reports whether a refill is owed at now.
func (a Allowance) Due(now time.Time) bool {
	next := a.NextResetAt()
	return !next.IsZero() && !now.Before(next)
}

// AllowanceLedger is implemented by ledgers that refill monthly.
type AllowanceLedger interface {
	Ledger
	// Allowance returns the account's monthly allowance and last reset.
	Allowance(ctx context.Context) (Allowance, error)
	// SetAllowance sets the monthly amount, starting the reset clock if it
	// has not started.
	SetAllowance(ctx context.Context, monthly int) error
	// ResetIfDue refills the balance to the allowance when a reset is owed at
	// now and reports whether it did.
	ResetIfDue(ctx context.Context, now time.Time) (bool, error)
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	// FreeTrial records reservations as ReasonFreeTrialUse.
	FreeTrial bool

	mu        sync.Mutex
	balance   int
	txs       []Transaction
	allowance Allowance
	now       func() time.Time
}

var _ AllowanceLedger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger holding balance credits.
func NewMemoryLedger(balance int) *MemoryLedger {
	return &MemoryLedger{balance: balance, now: time.Now}
}

func (l *MemoryLedger) Balance(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance, nil
}

func (l *MemoryLedger) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	if err := ctx.Err(); err != nil {
		return ReserveResult{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if req.Cost < 0 {
		return ReserveResult{}, fmt.Errorf("negative cost %d", req.Cost)
	}
	if l.balance < req.Cost {
		return ReserveResult{Balance: l.balance}, ErrInsufficientCredit
	}
	l.balance -= req.Cost
	l.txs = append(l.txs, Transaction{ChangeAmount: -req.Cost, Reason: useReason(l.FreeTrial), Mode: req.Mode, At: l.now().UTC()})
	return ReserveResult{Balance: l.balance}, nil
}

func (l *MemoryLedger) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, 0, len(l.txs))
	for i := len(l.txs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, l.txs[i])
	}
	return out, nil
}

func (l *MemoryLedger) Allowance(ctx context.Context) (Allowance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance, nil
}

func (l *MemoryLedger) SetAllowance(ctx context.Context, monthly int) error {
	if monthly < 0 {
		return fmt.Errorf("negative allowance %d", monthly)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowance.Monthly = monthly
	if l.allowance.LastResetAt.IsZero() {
		l.allowance.LastResetAt = l.now().UTC()
	}
	return nil
}

func (l *MemoryLedger) ResetIfDue(ctx context.Context, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.allowance.Due(now) {
		return false, nil
	}
	change := l.allowance.Monthly - l.balance
	l.balance = l.allowance.Monthly
	l.allowance.LastResetAt = now.UTC()
	l.txs = append(l.txs, Transaction{ChangeAmount: change, Reason: ReasonMonthlyReset, At: now.UTC()})
	return true, nil
}
