// Package twap prices pairs from the time-weighted average tick of the most
// liquid concentrated-liquidity pools trading them.
//
// Preparing a pool means growing its observation buffer until it covers the
// configured period. Growth is paid for out of the execution budget of the
// unit of work (see state.Meter); pools are admitted in order of liquidity
// until the budget runs out, and the admitted set is persisted per pair.
package twap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultName                 = "twap"
	DefaultGasPerCardinality    = 22_250
	DefaultGasCostToSupportPool = 30_000
)

// Logger is the logging surface of the backend.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolRegistry enumerates pools and reads their observation state. It is
// implemented by uniswapv3.System and by RPC-backed registries.
type PoolRegistry interface {
	PoolsForPair(ctx context.Context, tokenA, tokenB common.Address) ([]common.Address, error)
	Liquidity(ctx context.Context, pool common.Address) (*big.Int, error)
	// ObservationCardinality returns the size the pool's buffer grows to.
	ObservationCardinality(ctx context.Context, pool common.Address) (uint16, error)
	IncreaseObservationCardinality(ctx context.Context, pool common.Address, target uint16) error
	QuoteWithTimePeriod(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, pools []common.Address, period time.Duration) (*big.Int, error)
}

// Config configures a Backend. Zero gas parameters take their defaults.
type Config struct {
	Name                 string
	DB                   *state.DB
	Access               *access.Control
	Registry             PoolRegistry
	Logger               Logger
	Registerer           prometheus.Registerer
	MinPeriod            time.Duration
	MaxPeriod            time.Duration
	InitialPeriod        time.Duration
	CardinalityPerMinute uint64
	GasPerCardinality    uint64
	GasCostToSupportPool uint64
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
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	if c.MinPeriod < time.Second {
		return errors.New("config: MinPeriod must be at least one second")
	}
	if c.MaxPeriod < c.MinPeriod {
		return errors.New("config: MaxPeriod cannot be below MinPeriod")
	}
	if c.InitialPeriod < c.MinPeriod || c.InitialPeriod > c.MaxPeriod {
		return errors.New("config: InitialPeriod must lie within [MinPeriod, MaxPeriod]")
	}
	if c.CardinalityPerMinute == 0 {
		return errors.New("config: CardinalityPerMinute is required")
	}
	return nil
}

var (
	paramsBucket      = state.NewBucket("twap-params")
	poolsBucket       = state.NewBucket("twap-pools")
	poolPairsBucket   = state.NewBucket("twap-pool-pairs")
	deniedPairsBucket = state.NewBucket("twap-denylist-pairs")
	deniedPoolsBucket = state.NewBucket("twap-denylist-pools")

	paramsKey = []byte("params")
)

// params are the tunables an admin can change at runtime.
type params struct {
	PeriodSeconds        uint64
	CardinalityPerMinute uint64
	GasPerCardinality    uint64
	GasCostToSupportPool uint64
}

type poolSet struct {
	Pools []common.Address
}

// Backend is the pool-liquidity price oracle.
type Backend struct {
	name      string
	db        *state.DB
	access    *access.Control
	registry  PoolRegistry
	logger    Logger
	metrics   *Metrics
	minPeriod time.Duration
	maxPeriod time.Duration
	defaults  params
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
	defaults := params{
		PeriodSeconds:        uint64(cfg.InitialPeriod / time.Second),
		CardinalityPerMinute: cfg.CardinalityPerMinute,
		GasPerCardinality:    cfg.GasPerCardinality,
		GasCostToSupportPool: cfg.GasCostToSupportPool,
	}
	if defaults.GasPerCardinality == 0 {
		defaults.GasPerCardinality = DefaultGasPerCardinality
	}
	if defaults.GasCostToSupportPool == 0 {
		defaults.GasCostToSupportPool = DefaultGasCostToSupportPool
	}
	return &Backend{
		name:      name,
		db:        cfg.DB,
		access:    cfg.Access,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
		metrics:   NewMetrics(cfg.Registerer, name),
		minPeriod: cfg.MinPeriod,
		maxPeriod: cfg.MaxPeriod,
		defaults:  defaults,
	}, nil
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) params(ctx context.Context) (params, error) {
	var p params
	ok, err := paramsBucket.Get(ctx, paramsKey, &p)
	if err != nil {
		return params{}, err
	}
	if !ok {
		return b.defaults, nil
	}
	return p, nil
}

// CanSupportPair reports whether the registry has at least one pool for the
// pair that is not denylisted. Registry failures read as no support.
func (b *Backend) CanSupportPair(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		pools, err := b.candidates(ctx, engine.NewPair(tokenA, tokenB))
		if err != nil {
			if errors.Is(err, errRegistry) {
				return nil
			}
			return err
		}
		ok = len(pools) > 0
		return nil
	})
	return ok, err
}

// IsPairAlreadySupported reports whether a non-empty pool set is persisted.
func (b *Backend) IsPairAlreadySupported(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var ok bool
	err := b.db.View(ctx, func(ctx context.Context) error {
		set, err := b.poolSet(ctx, engine.NewPair(tokenA, tokenB))
		ok = len(set) > 0
		return err
	})
	return ok, err
}

// SupportedPools returns the persisted pool set of the pair in rank order.
func (b *Backend) SupportedPools(ctx context.Context, tokenA, tokenB common.Address) ([]common.Address, error) {
	var pools []common.Address
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		pools, err = b.poolSet(ctx, engine.NewPair(tokenA, tokenB))
		return err
	})
	return pools, err
}

// AddSupportForPairIfNeeded prepares the pair unless a pool set is persisted.
func (b *Backend) AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	return b.db.Update(ctx, func(ctx context.Context) error {
		ok, err := b.IsPairAlreadySupported(ctx, tokenA, tokenB)
		if err != nil || ok {
			return err
		}
		return b.AddOrModifySupportForPair(ctx, tokenA, tokenB, data)
	})
}

// AddOrModifySupportForPair ranks the pair's pools by liquidity and admits
// as many as the remaining budget can prepare, replacing any previous set.
func (b *Backend) AddOrModifySupportForPair(ctx context.Context, tokenA, tokenB common.Address, _ []byte) error {
	pair := engine.NewPair(tokenA, tokenB)
	return b.db.Update(ctx, func(ctx context.Context) error {
		candidates, err := b.candidates(ctx, pair)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		if len(candidates) == 0 {
			b.metrics.admissions.WithLabelValues("unsupported").Inc()
			return engine.NewPairError(pair, fmt.Errorf("%w: no eligible pools", engine.ErrUnsupported))
		}

		ranked, err := b.rankByLiquidity(ctx, candidates)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		p, err := b.params(ctx)
		if err != nil {
			return err
		}
		ready, err := b.admit(ctx, ranked, p)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		if len(ready) == 0 {
			b.metrics.admissions.WithLabelValues("budget_exhausted").Inc()
			return engine.NewPairError(pair, fmt.Errorf("%w: no pool could be prepared", engine.ErrBudgetExhausted))
		}

		if err := b.replacePoolSet(ctx, pair, ready); err != nil {
			return err
		}
		b.metrics.admissions.WithLabelValues("ok").Inc()
		b.metrics.poolsAdmitted.Observe(float64(len(ready)))
		b.logger.Debug("pair support updated", "pair", pair, "pools", len(ready), "candidates", len(candidates))
		return state.Emit(ctx, SupportUpdated{Pair: pair, Pools: ready})
	})
}

// Quote returns the time-weighted value of amountIn across the persisted pool set.
func (b *Backend) Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, _ []byte) (*big.Int, error) {
	pair := engine.NewPair(tokenIn, tokenOut)
	if amountIn == nil || amountIn.Sign() < 0 || amountIn.BitLen() > 128 {
		return nil, engine.NewPairError(pair, fmt.Errorf("%w: amount must fit in 128 bits", engine.ErrInvalidInput))
	}

	var out *big.Int
	err := b.db.View(ctx, func(ctx context.Context) error {
		pools, err := b.poolSet(ctx, pair)
		if err != nil {
			return err
		}
		if len(pools) == 0 {
			return engine.NewPairError(pair, engine.ErrUnsupported)
		}
		p, err := b.params(ctx)
		if err != nil {
			return err
		}
		period := time.Duration(p.PeriodSeconds) * time.Second
		out, err = b.registry.QuoteWithTimePeriod(ctx, amountIn, tokenIn, tokenOut, pools, period)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		return nil
	})
	return out, err
}

var errRegistry = errors.New("twap: pool registry")

// candidates returns the registry pools for the pair minus denylisted ones.
// A denylisted pair has no candidates.
func (b *Backend) candidates(ctx context.Context, pair engine.Pair) ([]common.Address, error) {
	denied, err := deniedPairsBucket.Has(ctx, pair.Key())
	if err != nil || denied {
		return nil, err
	}
	pools, err := b.registry.PoolsForPair(ctx, pair.TokenA, pair.TokenB)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRegistry, err)
	}
	out := pools[:0:0]
	for _, pool := range pools {
		denied, err := deniedPoolsBucket.Has(ctx, pool.Bytes())
		if err != nil {
			return nil, err
		}
		if !denied {
			out = append(out, pool)
		}
	}
	return out, nil
}

// rankByLiquidity orders pools by descending liquidity with an insertion
// sort. Equal liquidity keeps registry order. A single pool is not read.
func (b *Backend) rankByLiquidity(ctx context.Context, pools []common.Address) ([]common.Address, error) {
	if len(pools) == 1 {
		return pools, nil
	}
	ranked := make([]common.Address, len(pools))
	liquidity := make([]*big.Int, len(pools))
	for i, pool := range pools {
		l, err := b.registry.Liquidity(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("%w: liquidity of %s: %w", errRegistry, pool, err)
		}
		j := i
		for j > 0 && liquidity[j-1].Cmp(l) < 0 {
			ranked[j], liquidity[j] = ranked[j-1], liquidity[j-1]
			j--
		}
		ranked[j], liquidity[j] = pool, l
	}
	return ranked, nil
}

// admit walks the ranked pools and prepares each one the budget covers. It
// stops at the first pool it cannot afford.
func (b *Backend) admit(ctx context.Context, ranked []common.Address, p params) ([]common.Address, error) {
	meter, err := state.MeterFrom(ctx)
	if err != nil {
		return nil, err
	}
	target := targetCardinality(p.PeriodSeconds, p.CardinalityPerMinute)

	var ready []common.Address
	for _, pool := range ranked {
		current, err := b.registry.ObservationCardinality(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("%w: cardinality of %s: %w", errRegistry, pool, err)
		}
		if current >= target {
			ready = append(ready, pool)
			continue
		}

		cost := admissionCost(uint64(target-current), p)
		if meter.Remaining() < cost {
			b.logger.Debug("budget exhausted during admission", "pool", pool, "cost", cost, "remaining", meter.Remaining())
			break
		}
		if err := meter.Consume(cost); err != nil {
			return nil, err
		}
		if err := b.requestGrowth(ctx, pool, target); err != nil {
			return nil, err
		}
		ready = append(ready, pool)
	}
	return ready, nil
}

// requestGrowth asks the registry to grow the pool's buffer once the unit
// of work commits.
func (b *Backend) requestGrowth(ctx context.Context, pool common.Address, target uint16) error {
	return state.AfterCommit(ctx, func(ctx context.Context) error {
		if err := b.registry.IncreaseObservationCardinality(ctx, pool, target); err != nil {
			return fmt.Errorf("grow %s to %d: %w", pool, target, err)
		}
		b.metrics.growthRequests.Inc()
		return nil
	})
}

// admissionCost is missing * GasPerCardinality + GasCostToSupportPool,
// saturating at MaxUint64 so that no budget can cover an overflowing cost.
func admissionCost(missing uint64, p params) uint64 {
	hi, lo := bits.Mul64(missing, p.GasPerCardinality)
	if hi != 0 {
		return math.MaxUint64
	}
	cost, carry := bits.Add64(lo, p.GasCostToSupportPool, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return cost
}

// targetCardinality is ceil(period * perMinute / 60), capped at the largest
// buffer a pool can hold.
func targetCardinality(periodSeconds, perMinute uint64) uint16 {
	n := new(big.Int).Mul(new(big.Int).SetUint64(periodSeconds), new(big.Int).SetUint64(perMinute))
	n.Add(n, big.NewInt(59))
	n.Quo(n, big.NewInt(60))
	if !n.IsUint64() || n.Uint64() > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(n.Uint64())
}

func (b *Backend) poolSet(ctx context.Context, pair engine.Pair) ([]common.Address, error) {
	var set poolSet
	if _, err := poolsBucket.Get(ctx, pair.Key(), &set); err != nil {
		return nil, err
	}
	return set.Pools, nil
}

func poolPairKey(pool common.Address, pair engine.Pair) []byte {
	return append(pool.Bytes(), pair.Key()...)
}

// replacePoolSet stores pools as the pair's set and keeps the reverse index
// in step. An empty set deletes the record.
func (b *Backend) replacePoolSet(ctx context.Context, pair engine.Pair, pools []common.Address) error {
	previous, err := b.poolSet(ctx, pair)
	if err != nil {
		return err
	}
	for _, pool := range previous {
		if err := poolPairsBucket.Delete(ctx, poolPairKey(pool, pair)); err != nil {
			return err
		}
	}
	if len(pools) == 0 {
		return poolsBucket.Delete(ctx, pair.Key())
	}
	for _, pool := range pools {
		if err := poolPairsBucket.Put(ctx, poolPairKey(pool, pair), true); err != nil {
			return err
		}
	}
	return poolsBucket.Put(ctx, pair.Key(), poolSet{Pools: pools})
}

// pairsForPool lists the pairs whose set contains pool.
func (b *Backend) pairsForPool(ctx context.Context, pool common.Address) ([]engine.Pair, error) {
	keys, err := poolPairsBucket.Keys(ctx, pool.Bytes())
	if err != nil {
		return nil, err
	}
	pairs := make([]engine.Pair, 0, len(keys))
	for _, key := range keys {
		pair, err := engine.PairFromKey(key[common.AddressLength:])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
