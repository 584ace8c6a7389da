package transformer

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
)

// PairMappingConfig overrides, for one pair, whether each side is mapped
// to its underlying asset.
type PairMappingConfig struct {
	TokenA    common.Address
	TokenB    common.Address
	MapTokenA bool
	MapTokenB bool
}

// canonical orders the config like engine.NewPair, swapping the flags with the tokens.
func (c PairMappingConfig) canonical() PairMappingConfig {
	if engine.NewPair(c.TokenA, c.TokenB).TokenA == c.TokenA {
		return c
	}
	return PairMappingConfig{TokenA: c.TokenB, TokenB: c.TokenA, MapTokenA: c.MapTokenB, MapTokenB: c.MapTokenA}
}

type pairConfigRecord struct {
	MapTokenA bool
	MapTokenB bool
}

// --- Write Methods ---

// AvoidMappingToUnderlying stops mapping the tokens unless a pair config says otherwise.
func (b *Backend) AvoidMappingToUnderlying(ctx context.Context, tokens []common.Address) error {
	return b.setAvoid(ctx, tokens, true)
}

// ShouldMapToUnderlying reverts AvoidMappingToUnderlying.
func (b *Backend) ShouldMapToUnderlying(ctx context.Context, tokens []common.Address) error {
	return b.setAvoid(ctx, tokens, false)
}

func (b *Backend) setAvoid(ctx context.Context, tokens []common.Address, avoid bool) error {
	if len(tokens) == 0 {
		return fmt.Errorf("%w: no tokens", engine.ErrInvalidInput)
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		for _, token := range tokens {
			var err error
			if avoid {
				err = avoidBucket.Put(ctx, token.Bytes(), true)
			} else {
				err = avoidBucket.Delete(ctx, token.Bytes())
			}
			if err != nil {
				return err
			}
		}
		if avoid {
			return state.Emit(ctx, DependentsWillAvoidMappingToUnderlying{Tokens: tokens})
		}
		return state.Emit(ctx, DependentsWillMapToUnderlying{Tokens: tokens})
	})
}

// SetPairSpecificMappingConfig stores each config in canonical order.
func (b *Backend) SetPairSpecificMappingConfig(ctx context.Context, configs []PairMappingConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("%w: no configs", engine.ErrInvalidInput)
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		stored := make([]PairMappingConfig, len(configs))
		for i, cfg := range configs {
			cfg = cfg.canonical()
			stored[i] = cfg
			pair := engine.Pair{TokenA: cfg.TokenA, TokenB: cfg.TokenB}
			if err := pairConfigBucket.Put(ctx, pair.Key(), pairConfigRecord{MapTokenA: cfg.MapTokenA, MapTokenB: cfg.MapTokenB}); err != nil {
				return err
			}
		}
		return state.Emit(ctx, PairSpecificConfigSet{Configs: stored})
	})
}

// ClearPairSpecificMappingConfig drops the configs of the pairs.
func (b *Backend) ClearPairSpecificMappingConfig(ctx context.Context, pairs []engine.Pair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: no pairs", engine.ErrInvalidInput)
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		cleared := make([]engine.Pair, len(pairs))
		for i, p := range pairs {
			cleared[i] = engine.NewPair(p.TokenA, p.TokenB)
			if err := pairConfigBucket.Delete(ctx, cleared[i].Key()); err != nil {
				return err
			}
		}
		return state.Emit(ctx, PairSpecificConfigCleared{Pairs: cleared})
	})
}

// --- Read Methods ---

// WillAvoidMappingToUnderlying reports the avoid flag of token.
func (b *Backend) WillAvoidMappingToUnderlying(ctx context.Context, token common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		ok, err = avoidBucket.Has(ctx, token.Bytes())
		return err
	})
	return ok, err
}

// PairSpecificMappingConfig returns the config of the pair oriented to the
// argument order, and whether one is set.
func (b *Backend) PairSpecificMappingConfig(ctx context.Context, tokenA, tokenB common.Address) (PairMappingConfig, bool, error) {
	var (
		cfg PairMappingConfig
		ok  bool
	)
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		cfg, ok, err = b.pairConfig(ctx, tokenA, tokenB)
		return err
	})
	return cfg, ok, err
}

func (b *Backend) pairConfig(ctx context.Context, tokenA, tokenB common.Address) (PairMappingConfig, bool, error) {
	pair := engine.NewPair(tokenA, tokenB)
	var rec pairConfigRecord
	ok, err := pairConfigBucket.Get(ctx, pair.Key(), &rec)
	if err != nil || !ok {
		return PairMappingConfig{}, false, err
	}
	cfg := PairMappingConfig{TokenA: pair.TokenA, TokenB: pair.TokenB, MapTokenA: rec.MapTokenA, MapTokenB: rec.MapTokenB}
	if pair.TokenA != tokenA {
		cfg = PairMappingConfig{TokenA: tokenA, TokenB: tokenB, MapTokenA: rec.MapTokenB, MapTokenB: rec.MapTokenA}
	}
	return cfg, true, nil
}
