// Package budget tracks the shared daily spend on paid generations.
//
// Amounts are stored in the counter store as integer micro-units so that
// every update is a single atomic increment. The check is a soft cap: two
// requests can both pass Check before either calls Record.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/HanTheDev/art-gateway/internal/counter"
)

const microUnits = 6

// Status is a snapshot of today's ledger entry.
type Status struct {
	Date      string          `json:"date"`
	Spent     decimal.Decimal `json:"spent"`
	Cap       decimal.Decimal `json:"cap"`
	Remaining decimal.Decimal `json:"remaining"`
	Exceeded  bool            `json:"exceeded"`
	ResetsAt  time.Time       `json:"resetsAt"`
}

type Ledger struct {
	store counter.Store
	cap   decimal.Decimal
	cost  decimal.Decimal
	now   func() time.Time
}

func NewLedger(store counter.Store, dailyCap, costPerCall decimal.Decimal, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, cap: dailyCap, cost: costPerCall, now: now}
}

// Cost is the amount added per successful generation.
func (l *Ledger) Cost() decimal.Decimal { return l.cost }

// Check reads today's spend and reports whether the cap has been reached.
func (l *Ledger) Check(ctx context.Context) (Status, error) {
	now := l.now().UTC()
	raw, err := l.store.Get(ctx, Key(now))
	if err != nil {
		return Status{}, fmt.Errorf("read daily spend: %w", err)
	}
	return l.status(now, raw), nil
}

// Record adds one per-call cost to today's entry and returns the new total.
func (l *Ledger) Record(ctx context.Context) (decimal.Decimal, error) {
	now := l.now().UTC()
	raw, err := l.store.Incr(ctx, Key(now), toMicro(l.cost), ttl(now))
	if err != nil {
		return decimal.Zero, fmt.Errorf("record spend: %w", err)
	}
	return fromMicro(raw), nil
}

// Override replaces today's spend. Used by operators to correct the ledger.
func (l *Ledger) Override(ctx context.Context, spent decimal.Decimal) (Status, error) {
	if spent.IsNegative() {
		return Status{}, fmt.Errorf("spend cannot be negative")
	}
	now := l.now().UTC()
	raw := toMicro(spent)
	if err := l.store.Set(ctx, Key(now), raw, ttl(now)); err != nil {
		return Status{}, fmt.Errorf("override daily spend: %w", err)
	}
	return l.status(now, raw), nil
}

func (l *Ledger) status(now time.Time, raw int64) Status {
	spent := fromMicro(raw)
	remaining := l.cap.Sub(spent)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Status{
		Date:      now.Format(time.DateOnly),
		Spent:     spent,
		Cap:       l.cap,
		Remaining: remaining,
		Exceeded:  spent.GreaterThanOrEqual(l.cap),
		ResetsAt:  nextMidnight(now),
	}
}

// Key names the ledger entry for the UTC date of t.
func Key(t time.Time) string {
	return "budget:daily:" + t.UTC().Format(time.DateOnly)
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// ttl keeps the entry an hour past midnight so late readers of the old date
// still see it.
func ttl(now time.Time) time.Duration {
	return nextMidnight(now).Sub(now) + time.Hour
}

func toMicro(d decimal.Decimal) int64 {
	return d.Shift(microUnits).Round(0).IntPart()
}

func fromMicro(v int64) decimal.Decimal {
	return decimal.New(v, -microUnits)
}
