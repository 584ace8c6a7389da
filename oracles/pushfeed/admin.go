package pushfeed

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

// AddMappings points each token at the feed key it should be priced as. A
// zero mapped address removes the mapping.
func (b *Backend) AddMappings(ctx context.Context, tokens, mapped []common.Address) error {
	if len(tokens) == 0 || len(tokens) != len(mapped) {
		return fmt.Errorf("%w: got %d tokens and %d mappings", engine.ErrInvalidInput, len(tokens), len(mapped))
	}
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		for i, token := range tokens {
			var err error
			if mapped[i] == (common.Address{}) {
				err = mappingsBucket.Delete(ctx, token.Bytes())
			} else {
				err = mappingsBucket.Put(ctx, token.Bytes(), mapped[i])
			}
			if err != nil {
				return err
			}
		}
		return state.Emit(ctx, MappingsAdded{Tokens: tokens, Mapped: mapped})
	})
}

// SetMaxDelay changes how old a feed answer may be. It is kept at second precision.
func (b *Backend) SetMaxDelay(ctx context.Context, maxDelay time.Duration) error {
	if maxDelay < time.Second {
		return fmt.Errorf("%w: max delay must be at least one second", engine.ErrInvalidInput)
	}
	seconds := uint64(maxDelay / time.Second)
	return b.db.Update(ctx, func(ctx context.Context) error {
		if err := b.access.Require(ctx, access.Admin); err != nil {
			return err
		}
		if err := paramsBucket.Put(ctx, maxDelayKey, seconds); err != nil {
			return err
		}
		return state.Emit(ctx, MaxDelayChanged{MaxDelay: time.Duration(seconds) * time.Second})
	})
}

// --- Read Methods ---

// PlanForPair returns the stored plan of the pair.
func (b *Backend) PlanForPair(ctx context.Context, tokenA, tokenB common.Address) (Plan, error) {
	var plan Plan
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		plan, err = b.storedPlan(ctx, engine.NewPair(tokenA, tokenB))
		return err
	})
	return plan, err
}

// MappedToken returns the feed key of token, which is token itself when unmapped.
func (b *Backend) MappedToken(ctx context.Context, token common.Address) (common.Address, error) {
	var out common.Address
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.mapped(ctx, token)
		return err
	})
	return out, err
}

func (b *Backend) MaxDelay(ctx context.Context) (time.Duration, error) {
	var out time.Duration
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.currentMaxDelay(ctx)
		return err
	})
	return out, err
}
