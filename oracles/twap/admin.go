package twap

import (
	"context"
	"fmt"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
)

// --- Write Methods ---

// SetPeriod changes the averaging period. It must lie within the configured bounds.
func (b *Backend) SetPeriod(ctx context.Context, period time.Duration) error {
	if period < b.minPeriod || period > b.maxPeriod {
		return fmt.Errorf("%w: period %s outside [%s, %s]", engine.ErrInvalidInput, period, b.minPeriod, b.maxPeriod)
	}
	seconds := uint64(period / time.Second)
	return b.updateParams(ctx, func(p *params) state.Event {
		p.PeriodSeconds = seconds
		return PeriodChanged{Period: time.Duration(seconds) * time.Second}
	})
}

// SetCardinalityPerMinute changes how many observations a pool keeps per minute of period.
func (b *Backend) SetCardinalityPerMinute(ctx context.Context, perMinute uint64) error {
	if perMinute == 0 {
		return fmt.Errorf("%w: cardinality per minute must be positive", engine.ErrInvalidInput)
	}
	return b.updateParams(ctx, func(p *params) state.Event {
		p.CardinalityPerMinute = perMinute
		return CardinalityPerMinuteChanged{CardinalityPerMinute: perMinute}
	})
}

// SetGasPerCardinality changes the budget charged per observation slot added.
func (b *Backend) SetGasPerCardinality(ctx context.Context, gas uint64) error {
	if gas == 0 {
		return fmt.Errorf("%w: gas per cardinality must be positive", engine.ErrInvalidInput)
	}
	return b.updateParams(ctx, func(p *params) state.Event {
		p.GasPerCardinality = gas
		return GasPerCardinalityChanged{Gas: gas}
	})
}

// SetGasCostToSupportPool changes the fixed budget charged per pool prepared.
func (b *Backend) SetGasCostToSupportPool(ctx context.Context, gas uint64) error {
	if gas == 0 {
		return fmt.Errorf("%w: gas cost to support pool must be positive", engine.ErrInvalidInput)
	}
	return b.updateParams(ctx, func(p *params) state.Event {
		p.GasCostToSupportPool = gas
		return GasCostToSupportPoolChanged{Gas: gas}
	})
}

func (b *Backend) updateParams(ctx context.Context, apply func(p *params) state.Event) error {
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		p, err := b.params(ctx)
		if err != nil {
			return err
		}
		ev := apply(&p)
		if err := paramsBucket.Put(ctx, paramsKey, p); err != nil {
			return err
		}
		return state.Emit(ctx, ev)
	})
}

// SetDenylisted sets the denylist flag of each pair. Denylisting a pair
// deletes its pool set.
func (b *Backend) SetDenylisted(ctx context.Context, pairs []engine.Pair, denylisted []bool) error {
	if len(pairs) == 0 || len(pairs) != len(denylisted) {
		return fmt.Errorf("%w: got %d pairs and %d flags", engine.ErrInvalidInput, len(pairs), len(denylisted))
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		canonical := make([]engine.Pair, len(pairs))
		for i, p := range pairs {
			pair := engine.NewPair(p.TokenA, p.TokenB)
			canonical[i] = pair
			if !denylisted[i] {
				if err := deniedPairsBucket.Delete(ctx, pair.Key()); err != nil {
					return err
				}
				continue
			}
			if err := deniedPairsBucket.Put(ctx, pair.Key(), true); err != nil {
				return err
			}
			if err := b.replacePoolSet(ctx, pair, nil); err != nil {
				return err
			}
		}
		return state.Emit(ctx, DenylistChanged{Pairs: canonical, Denylisted: denylisted})
	})
}

// SetPoolsDenylisted sets the denylist flag of each pool. A denylisted pool
// is removed from every pool set holding it.
func (b *Backend) SetPoolsDenylisted(ctx context.Context, pools []common.Address, denylisted []bool) error {
	if len(pools) == 0 || len(pools) != len(denylisted) {
		return fmt.Errorf("%w: got %d pools and %d flags", engine.ErrInvalidInput, len(pools), len(denylisted))
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		for i, pool := range pools {
			if !denylisted[i] {
				if err := deniedPoolsBucket.Delete(ctx, pool.Bytes()); err != nil {
					return err
				}
				continue
			}
			if err := deniedPoolsBucket.Put(ctx, pool.Bytes(), true); err != nil {
				return err
			}
			if err := b.purgePool(ctx, pool); err != nil {
				return err
			}
		}
		return state.Emit(ctx, PoolDenylistChanged{Pools: pools, Denylisted: denylisted})
	})
}

func (b *Backend) purgePool(ctx context.Context, pool common.Address) error {
	pairs, err := b.pairsForPool(ctx, pool)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		set, err := b.poolSet(ctx, pair)
		if err != nil {
			return err
		}
		kept := make([]common.Address, 0, len(set))
		for _, p := range set {
			if p != pool {
				kept = append(kept, p)
			}
		}
		if err := b.replacePoolSet(ctx, pair, kept); err != nil {
			return err
		}
		if len(kept) == 0 {
			b.logger.Info("pair lost its last pool", "pair", pair, "pool", pool)
		}
	}
	return nil
}

// --- Read Methods ---

// Period returns the averaging period.
func (b *Backend) Period(ctx context.Context) (time.Duration, error) {
	p, err := b.viewParams(ctx)
	return time.Duration(p.PeriodSeconds) * time.Second, err
}

func (b *Backend) CardinalityPerMinute(ctx context.Context) (uint64, error) {
	p, err := b.viewParams(ctx)
	return p.CardinalityPerMinute, err
}

func (b *Backend) GasPerCardinality(ctx context.Context) (uint64, error) {
	p, err := b.viewParams(ctx)
	return p.GasPerCardinality, err
}

func (b *Backend) GasCostToSupportPool(ctx context.Context) (uint64, error) {
	p, err := b.viewParams(ctx)
	return p.GasCostToSupportPool, err
}

// PeriodBounds returns the configured minimum and maximum period.
func (b *Backend) PeriodBounds() (time.Duration, time.Duration) {
	return b.minPeriod, b.maxPeriod
}

// IsDenylisted reports whether the pair is denylisted.
func (b *Backend) IsDenylisted(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = deniedPairsBucket.Has(ctx, engine.NewPair(tokenA, tokenB).Key())
		return err
	})
	return ok, err
}

// IsPoolDenylisted reports whether the pool is denylisted.
func (b *Backend) IsPoolDenylisted(ctx context.Context, pool common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = deniedPoolsBucket.Has(ctx, pool.Bytes())
		return err
	})
	return ok, err
}

func (b *Backend) viewParams(ctx context.Context) (params, error) {
	var p params
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		p, err = b.params(ctx)
		return err
	})
	return p, err
}
