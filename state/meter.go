package state

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-oracle-go/engine"
)

type budgetKey struct{}

// Meter tracks the execution budget of one top-level unit of work.
type Meter struct {
	limit uint64
	used  uint64
}

// NewMeter returns a meter with the given limit.
func NewMeter(limit uint64) *Meter {
	return &Meter{limit: limit}
}

// Consume deducts n from the budget. Running out fails with
// engine.ErrBudgetExhausted, which discards the whole unit of work.
func (m *Meter) Consume(n uint64) error {
	if n > m.Remaining() {
		return fmt.Errorf("%w: need %d, remaining %d", engine.ErrBudgetExhausted, n, m.Remaining())
	}
	m.used += n
	return nil
}

// Remaining returns the unspent budget.
func (m *Meter) Remaining() uint64 {
	return m.limit - m.used
}

// Used returns the spent budget.
func (m *Meter) Used() uint64 {
	return m.used
}

// Limit returns the budget the meter started with.
func (m *Meter) Limit() uint64 {
	return m.limit
}

// WithBudget sets the execution budget for the next top-level unit of work
// started with ctx.
func WithBudget(ctx context.Context, limit uint64) context.Context {
	return context.WithValue(ctx, budgetKey{}, limit)
}

func budgetFrom(ctx context.Context) (uint64, bool) {
	limit, ok := ctx.Value(budgetKey{}).(uint64)
	return limit, ok
}

// MeterFrom returns the meter of the unit of work carried by ctx.
func MeterFrom(ctx context.Context) (*Meter, error) {
	u, err := mustUnit(ctx)
	if err != nil {
		return nil, err
	}
	return u.meter, nil
}
