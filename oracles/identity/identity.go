// Package identity quotes an asset against itself.
package identity

import (
	"context"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/ethereum/go-ethereum/common"
)

const DefaultName = "identity"

// Backend supports exactly the pairs whose two sides are the same asset.
// It keeps no state.
type Backend struct {
	name string
}

var _ engine.PriceOracle = (*Backend)(nil)

// New creates a Backend. An empty name defaults to DefaultName.
func New(name string) *Backend {
	if name == "" {
		name = DefaultName
	}
	return &Backend{name: name}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) CanSupportPair(_ context.Context, tokenA, tokenB common.Address) (bool, error) {
	return tokenA == tokenB, nil
}

func (b *Backend) IsPairAlreadySupported(_ context.Context, tokenA, tokenB common.Address) (bool, error) {
	return tokenA == tokenB, nil
}

func (b *Backend) AddOrModifySupportForPair(_ context.Context, tokenA, tokenB common.Address, _ []byte) error {
	if tokenA != tokenB {
		return engine.NewPairError(engine.NewPair(tokenA, tokenB), engine.ErrUnsupported)
	}
	return nil
}

func (b *Backend) AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	return b.AddOrModifySupportForPair(ctx, tokenA, tokenB, data)
}

// Quote returns a copy of amountIn when both tokens are the same.
func (b *Backend) Quote(_ context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, _ []byte) (*big.Int, error) {
	pair := engine.NewPair(tokenIn, tokenOut)
	if tokenIn != tokenOut {
		return nil, engine.NewPairError(pair, engine.ErrUnresolved)
	}
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, engine.NewPairError(pair, fmt.Errorf("%w: amount must be non-negative", engine.ErrInvalidInput))
	}
	return new(big.Int).Set(amountIn), nil
}
