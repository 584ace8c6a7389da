package aggregator

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

// --- Write Methods ---

// ForceBackend configures the named backend for the pair and pins the
// assignment to it.
func (a *Aggregator) ForceBackend(ctx context.Context, tokenA, tokenB common.Address, backend string, data []byte) error {
	pair := engine.NewPair(tokenA, tokenB)
	return a.db.Update(ctx, func(ctx context.Context) error {
		if err := a.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		b, ok := a.resolve(backend)
		if !ok {
			return fmt.Errorf("%w: unknown backend %q", engine.ErrInvalidInput, backend)
		}
		if err := b.AddOrModifySupportForPair(ctx, pair.TokenA, pair.TokenB, data); err != nil {
			return fmt.Errorf("backend %s: %w", backend, err)
		}
		a.logger.Info("backend forced", "pair", pair, "backend", backend)
		return a.assign(ctx, pair, backend, true)
	})
}

// ClearAssignment resets the pair to unresolved.
func (a *Aggregator) ClearAssignment(ctx context.Context, tokenA, tokenB common.Address) error {
	pair := engine.NewPair(tokenA, tokenB)
	return a.db.Update(ctx, func(ctx context.Context) error {
		if err := a.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		return a.assign(ctx, pair, "", false)
	})
}

// SetBackendList replaces the ordered backend list.
func (a *Aggregator) SetBackendList(ctx context.Context, backends []engine.PriceOracle) error {
	if len(backends) == 0 {
		return fmt.Errorf("%w: empty backend list", engine.ErrInvalidInput)
	}
	return a.db.Update(ctx, func(ctx context.Context) error {
		if err := a.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		names, err := a.bind(backends)
		if err != nil {
			return err
		}
		a.logger.Info("backend list updated", "backends", names)
		return a.writeList(ctx, names)
	})
}

// --- Read Methods ---

// AssignedBackend returns the assignment of the pair in either token order.
func (a *Aggregator) AssignedBackend(ctx context.Context, tokenA, tokenB common.Address) (Assignment, error) {
	pair := engine.NewPair(tokenA, tokenB)
	var out Assignment
	err := a.db.View(ctx, func(ctx context.Context) error {
		var err error
		out, err = a.assignment(ctx, pair)
		return err
	})
	return out, err
}

// AvailableBackends returns the names of the stored backend list, in order.
func (a *Aggregator) AvailableBackends(ctx context.Context) ([]string, error) {
	var stored backendList
	err := a.db.View(ctx, func(ctx context.Context) error {
		_, err := listBucket.Get(ctx, listKey, &stored)
		return err
	})
	return stored.Names, err
}

// Unresolvable returns the names of the stored list no backend is registered under.
func (a *Aggregator) Unresolvable(ctx context.Context) (mapset.Set[string], error) {
	names, err := a.AvailableBackends(ctx)
	if err != nil {
		return nil, err
	}
	out := mapset.NewThreadUnsafeSet[string]()
	for _, name := range names {
		if _, ok := a.resolve(name); !ok {
			out.Add(name)
		}
	}
	return out, nil
}
