package credit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KamdynS/advisor/observability"
)

// Reservation is the outcome of Gate.TryReserve.
type Reservation struct {
	Granted bool   `json:"granted"`
	Cost    int    `json:"cost"`
	Mode    string `json:"mode"`
	// Balance is the cached balance after the attempt.
	Balance int `json:"balance"`
}

// ReservationError reports a local grant that the ledger did not honour.
// The cached balance has already been restored when it is returned.
type ReservationError struct {
	Cost int
	Mode string
	Err  error
}

func (e *ReservationError) Error() string {
	return fmt.Sprintf("reserve %d credits for %s: %v", e.Cost, e.Mode, e.Err)
}

func (e *ReservationError) Unwrap() error { return e.Err }

// Gate performs admission control against a cached balance backed by a Ledger.
// Calls are serialized, so a second reservation never interleaves with the
// rollback of a first one.
type Gate struct {
	ledger Ledger
	hooks  *observability.Hooks

	mu      sync.Mutex
	balance int
}

// NewGate creates a gate whose cache starts at balance. Call Refresh to load
// the authoritative value instead.
func NewGate(ledger Ledger, balance int, hooks *observability.Hooks) *Gate {
	return &Gate{ledger: ledger, balance: balance, hooks: hooks}
}

// Refresh replaces the cached balance with the ledger's value, first applying
// a monthly refill if the ledger has one due.
func (g *Gate) Refresh(ctx context.Context) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if al, ok := g.ledger.(AllowanceLedger); ok {
		reset, err := al.ResetIfDue(ctx, time.Now())
		if err != nil {
			return g.balance, fmt.Errorf("monthly reset: %w", err)
		}
		if reset {
			g.hooks.SafeLog(ctx, "info", "monthly credits refilled", nil)
		}
	}
	bal, err := g.ledger.Balance(ctx)
	if err != nil {
		return g.balance, fmt.Errorf("refresh balance: %w", err)
	}
	g.balance = bal
	return bal, nil
}

// Balance returns the cached balance.
func (g *Gate) Balance() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance
}

// TryReserve deducts cost from the cache before asking the ledger to do the
// same. An insufficient cache yields Granted=false with no mutation and no
// ledger call. A ledger failure restores the cache and returns a
// *ReservationError.
func (g *Gate) TryReserve(ctx context.Context, mode string, cost int) (Reservation, error) {
	if cost < 0 {
		return Reservation{}, fmt.Errorf("negative cost %d for mode %s", cost, mode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.balance < cost {
		g.hooks.SafeReserve(ctx, mode, cost, false, nil)
		return Reservation{Granted: false, Cost: cost, Mode: mode, Balance: g.balance}, nil
	}
	before := g.balance
	g.balance -= cost

	res, err := g.ledger.Reserve(ctx, ReserveRequest{Cost: cost, Mode: mode})
	if err != nil {
		g.balance = before
		rerr := &ReservationError{Cost: cost, Mode: mode, Err: err}
		g.hooks.SafeReserve(ctx, mode, cost, false, rerr)
		g.hooks.SafeLog(ctx, "warn", "credit reservation rolled back", map[string]any{"mode": mode, "cost": cost, "error": err.Error()})
		return Reservation{Granted: false, Cost: cost, Mode: mode, Balance: before}, rerr
	}
	g.balance = res.Balance
	g.hooks.SafeReserve(ctx, mode, cost, true, nil)
	return Reservation{Granted: true, Cost: cost, Mode: mode, Balance: g.balance}, nil
}
