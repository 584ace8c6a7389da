// Package transformer prices wrapped assets through the oracle of their
// underlying assets, converting amounts on the way in and out.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
)

const DefaultName = "transformer"

// Logger is the logging surface of the backend.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UnderlyingAmount is an amount of one underlying asset.
type UnderlyingAmount struct {
	Token  common.Address
	Amount *big.Int
}

// Transformer converts between a dependent asset and its underlying assets.
type Transformer interface {
	Underlying(ctx context.Context, dependent common.Address) ([]common.Address, error)
	ToUnderlying(ctx context.Context, dependent common.Address, amount *big.Int) ([]UnderlyingAmount, error)
	ToDependent(ctx context.Context, dependent common.Address, underlying []UnderlyingAmount) (*big.Int, error)
}

// Registry looks up transformers. The result has one entry per token, nil
// where the token has no transformer.
type Registry interface {
	Transformers(ctx context.Context, tokens []common.Address) ([]Transformer, error)
}

// Config configures a Backend.
type Config struct {
	Name     string
	DB       *state.DB
	Access   *access.Control
	Registry Registry
	// Underlying prices the mapped pairs. Usually the aggregator.
	Underlying engine.PriceOracle
	Logger     Logger
}

func (c *Config) validate() error {
	if c.DB == nil {
		return errors.New("config: DB cannot be nil")
	}
	if c.Access == nil {
		return errors.New("config: Access cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Underlying == nil {
		return errors.New("config: Underlying cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

var (
	avoidBucket      = state.NewBucket("transformer-avoid")
	pairConfigBucket = state.NewBucket("transformer-pair-config")
)

// Backend is the wrapper price oracle.
type Backend struct {
	name       string
	db         *state.DB
	access     *access.Control
	registry   Registry
	underlying engine.PriceOracle
	logger     Logger
}

var _ engine.PriceOracle = (*Backend)(nil)

// New creates a Backend.
func New(cfg *Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	return &Backend{
		name:       name,
		db:         cfg.DB,
		access:     cfg.Access,
		registry:   cfg.Registry,
		underlying: cfg.Underlying,
		logger:     cfg.Logger,
	}, nil
}

func (b *Backend) Name() string { return b.name }

// side is one token of a pair after mapping.
type side struct {
	token       common.Address
	mapped      common.Address
	transformer Transformer
}

func (s side) isMapped() bool { return s.transformer != nil }

// mapping resolves both sides of the pair, in argument order.
func (b *Backend) mapping(ctx context.Context, tokenA, tokenB common.Address) (side, side, error) {
	checkA, checkB, err := b.shouldCheck(ctx, tokenA, tokenB)
	if err != nil {
		return side{}, side{}, err
	}
	sideA := side{token: tokenA, mapped: tokenA}
	sideB := side{token: tokenB, mapped: tokenB}

	var query []common.Address
	if checkA {
		query = append(query, tokenA)
	}
	if checkB {
		query = append(query, tokenB)
	}
	if len(query) == 0 {
		return sideA, sideB, nil
	}
	transformers, err := b.registry.Transformers(ctx, query)
	if err != nil {
		return side{}, side{}, fmt.Errorf("transformer registry: %w", err)
	}
	if len(transformers) != len(query) {
		return side{}, side{}, fmt.Errorf("transformer registry returned %d transformers for %d tokens", len(transformers), len(query))
	}
	if checkA {
		sideA.transformer, transformers = transformers[0], transformers[1:]
	}
	if checkB {
		sideB.transformer = transformers[0]
	}

	for _, sd := range []*side{&sideA, &sideB} {
		if !sd.isMapped() {
			continue
		}
		underlying, err := sd.transformer.Underlying(ctx, sd.token)
		if err != nil {
			return side{}, side{}, fmt.Errorf("underlying of %s: %w", sd.token, err)
		}
		if len(underlying) == 0 {
			return side{}, side{}, fmt.Errorf("%w: %s has no underlying assets", engine.ErrInvalidInput, sd.token)
		}
		sd.mapped = underlying[0]
	}
	return sideA, sideB, nil
}

// shouldCheck decides which sides are looked up in the registry. A pair
// specific config wins over the avoid flag of the token.
func (b *Backend) shouldCheck(ctx context.Context, tokenA, tokenB common.Address) (bool, bool, error) {
	cfg, ok, err := b.pairConfig(ctx, tokenA, tokenB)
	if err != nil {
		return false, false, err
	}
	if ok {
		return cfg.MapTokenA, cfg.MapTokenB, nil
	}
	avoidA, err := avoidBucket.Has(ctx, tokenA.Bytes())
	if err != nil {
		return false, false, err
	}
	avoidB, err := avoidBucket.Has(ctx, tokenB.Bytes())
	if err != nil {
		return false, false, err
	}
	return !avoidA, !avoidB, nil
}

// MappingForPair returns the tokens the underlying oracle is asked about, in argument order.
func (b *Backend) MappingForPair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	var sideA, sideB side
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		sideA, sideB, err = b.mapping(ctx, tokenA, tokenB)
		return err
	})
	return sideA.mapped, sideB.mapped, err
}

func (b *Backend) CanSupportPair(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		sideA, sideB, err := b.mapping(ctx, tokenA, tokenB)
		if err != nil {
			return err
		}
		ok, err = b.underlying.CanSupportPair(ctx, sideA.mapped, sideB.mapped)
		return err
	})
	return ok, err
}

func (b *Backend) IsPairAlreadySupported(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		sideA, sideB, err := b.mapping(ctx, tokenA, tokenB)
		if err != nil {
			return err
		}
		ok, err = b.underlying.IsPairAlreadySupported(ctx, sideA.mapped, sideB.mapped)
		return err
	})
	return ok, err
}

func (b *Backend) AddOrModifySupportForPair(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	return b.db.Update(ctx, func(ctx context.Context) error {
		sideA, sideB, err := b.mapping(ctx, tokenA, tokenB)
		if err != nil {
			return err
		}
		return b.underlying.AddOrModifySupportForPair(ctx, sideA.mapped, sideB.mapped, data)
	})
}

func (b *Backend) AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	return b.db.Update(ctx, func(ctx context.Context) error {
		sideA, sideB, err := b.mapping(ctx, tokenA, tokenB)
		if err != nil {
			return err
		}
		return b.underlying.AddSupportForPairIfNeeded(ctx, sideA.mapped, sideB.mapped, data)
	})
}

// Quote converts amountIn to the underlying of tokenIn if it is mapped,
// prices the mapped pair, and converts the result back to tokenOut if it is
// mapped.
func (b *Backend) Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, data []byte) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, engine.NewPairError(engine.NewPair(tokenIn, tokenOut), fmt.Errorf("%w: amount must be non-negative", engine.ErrInvalidInput))
	}
	var out *big.Int
	err := b.db.View(ctx, func(ctx context.Context) error {
		in, o, err := b.mapping(ctx, tokenIn, tokenOut)
		if err != nil {
			return err
		}

		amount := amountIn
		if in.isMapped() {
			underlying, err := in.transformer.ToUnderlying(ctx, tokenIn, amountIn)
			if err != nil {
				return fmt.Errorf("transform %s to underlying: %w", tokenIn, err)
			}
			if len(underlying) == 0 {
				return fmt.Errorf("transform %s to underlying: no amounts returned", tokenIn)
			}
			amount = underlying[0].Amount
		}

		result, err := b.underlying.Quote(ctx, in.mapped, amount, o.mapped, data)
		if err != nil {
			return err
		}
		if o.isMapped() {
			result, err = o.transformer.ToDependent(ctx, tokenOut, []UnderlyingAmount{{Token: o.mapped, Amount: result}})
			if err != nil {
				return fmt.Errorf("transform %s to dependent: %w", tokenOut, err)
			}
		}
		out = result
		return nil
	})
	return out, err
}
