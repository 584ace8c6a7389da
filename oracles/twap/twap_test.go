package twap

import (
	"context"
	"errors"
	"math"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/defistate/defistate-oracle-go/state/statetest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	superAdmin = common.HexToAddress("0x5a")
	admin      = common.HexToAddress("0xad")
	stranger   = common.HexToAddress("0xbe")

	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000000")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000000")

	pool1 = common.HexToAddress("0x0001")
	pool2 = common.HexToAddress("0x0002")
	pool3 = common.HexToAddress("0x0003")
)

// With a ten minute period and one observation per minute every pool needs
// ten slots.
const (
	target      = 10
	costPerPool = target*DefaultGasPerCardinality + DefaultGasCostToSupportPool
)

type growth struct {
	pool   common.Address
	target uint16
}

type quoteCall struct {
	pools  []common.Address
	period time.Duration
}

type fakeRegistry struct {
	mu             sync.Mutex
	pools          map[engine.Pair][]common.Address
	liquidity      map[common.Address]int64
	cardinality    map[common.Address]uint16
	poolsErr       error
	liquidityReads int
	growths        []growth
	quotes         []quoteCall
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		pools:       make(map[engine.Pair][]common.Address),
		liquidity:   make(map[common.Address]int64),
		cardinality: make(map[common.Address]uint16),
	}
}

func (f *fakeRegistry) addPool(pool common.Address, liquidity int64, cardinality uint16) {
	pair := engine.NewPair(tokenA, tokenB)
	f.pools[pair] = append(f.pools[pair], pool)
	f.liquidity[pool] = liquidity
	f.cardinality[pool] = cardinality
}

func (f *fakeRegistry) PoolsForPair(_ context.Context, a, b common.Address) ([]common.Address, error) {
	if f.poolsErr != nil {
		return nil, f.poolsErr
	}
	return append([]common.Address(nil), f.pools[engine.NewPair(a, b)]...), nil
}

func (f *fakeRegistry) Liquidity(_ context.Context, pool common.Address) (*big.Int, error) {
	f.liquidityReads++
	return big.NewInt(f.liquidity[pool]), nil
}

func (f *fakeRegistry) ObservationCardinality(_ context.Context, pool common.Address) (uint16, error) {
	return f.cardinality[pool], nil
}

func (f *fakeRegistry) IncreaseObservationCardinality(_ context.Context, pool common.Address, target uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.growths = append(f.growths, growth{pool: pool, target: target})
	return nil
}

func (f *fakeRegistry) QuoteWithTimePeriod(_ context.Context, amountIn *big.Int, _, _ common.Address, pools []common.Address, period time.Duration) (*big.Int, error) {
	f.quotes = append(f.quotes, quoteCall{pools: pools, period: period})
	return new(big.Int).Mul(amountIn, big.NewInt(3)), nil
}

type fixture struct {
	backend  *Backend
	registry *fakeRegistry
	db       *state.DB
	events   *state.Recorder
	admin    context.Context
	stranger context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, rec := statetest.New(t)
	ac, err := access.New(ctx, db, superAdmin, []common.Address{admin})
	require.NoError(t, err)
	reg := newFakeRegistry()
	b, err := New(&Config{
		DB:                   db,
		Access:               ac,
		Registry:             reg,
		Logger:               statetest.Logger(),
		Registerer:           prometheus.NewRegistry(),
		MinPeriod:            time.Minute,
		MaxPeriod:            time.Hour,
		InitialPeriod:        10 * time.Minute,
		CardinalityPerMinute: 1,
	})
	require.NoError(t, err)
	rec.Reset()
	return &fixture{
		backend:  b,
		registry: reg,
		db:       db,
		events:   rec,
		admin:    access.WithCaller(ctx, admin),
		stranger: access.WithCaller(ctx, stranger),
	}
}

func TestNew_Validation(t *testing.T) {
	db, _ := statetest.New(t)
	ac, err := access.New(context.Background(), db, superAdmin, nil)
	require.NoError(t, err)
	valid := func() *Config {
		return &Config{
			DB: db, Access: ac, Registry: newFakeRegistry(), Logger: statetest.Logger(),
			Registerer: prometheus.NewRegistry(), MinPeriod: time.Minute, MaxPeriod: time.Hour,
			InitialPeriod: time.Minute, CardinalityPerMinute: 1,
		}
	}

	b, err := New(valid())
	require.NoError(t, err)
	assert.Equal(t, DefaultName, b.Name())

	cases := map[string]func(c *Config){
		"NilDB":               func(c *Config) { c.DB = nil },
		"NilAccess":           func(c *Config) { c.Access = nil },
		"NilRegistry":         func(c *Config) { c.Registry = nil },
		"NilLogger":           func(c *Config) { c.Logger = nil },
		"NilRegisterer":       func(c *Config) { c.Registerer = nil },
		"SubSecondMinPeriod":  func(c *Config) { c.MinPeriod = time.Millisecond },
		"InvertedBounds":      func(c *Config) { c.MaxPeriod = time.Second },
		"InitialOutOfBounds":  func(c *Config) { c.InitialPeriod = 2 * time.Hour },
		"ZeroCardinalityRate": func(c *Config) { c.CardinalityPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestBackend_CanSupportPair(t *testing.T) {
	t.Run("NoPools", func(t *testing.T) {
		f := newFixture(t)
		ok, err := f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EligiblePoolInEitherOrder", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		for _, order := range [][2]common.Address{{tokenA, tokenB}, {tokenB, tokenA}} {
			ok, err := f.backend.CanSupportPair(f.stranger, order[0], order[1])
			require.NoError(t, err)
			assert.True(t, ok)
		}
	})

	t.Run("RegistryFailureReadsAsNoSupport", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		f.registry.poolsErr = errors.New("rpc down")
		ok, err := f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DenylistedPoolsAndPairs", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true}))
		ok, err := f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)

		f.registry.addPool(pool2, 10, 0)
		ok, err = f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, f.backend.SetDenylisted(f.admin, []engine.Pair{{TokenA: tokenB, TokenB: tokenA}}, []bool{true}))
		ok, err = f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestBackend_AddOrModifySupportForPair(t *testing.T) {
	t.Run("RanksPoolsByDescendingLiquidity", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		f.registry.addPool(pool2, 20, 0)
		f.registry.addPool(pool3, 30, 0)

		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))

		pools, err := f.backend.SupportedPools(f.stranger, tokenB, tokenA)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool3, pool2, pool1}, pools)
		assert.Equal(t, []growth{{pool3, target}, {pool2, target}, {pool1, target}}, f.registry.growths)
		assert.Equal(t, []state.Event{
			SupportUpdated{Pair: engine.NewPair(tokenA, tokenB), Pools: []common.Address{pool3, pool2, pool1}},
		}, f.events.Events())
	})

	t.Run("TiesKeepRegistryOrder", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool2, 20, target)
		f.registry.addPool(pool1, 20, target)
		f.registry.addPool(pool3, 50, target)

		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool3, pool2, pool1}, pools)
		assert.Empty(t, f.registry.growths, "pools at target are ready without growth")
	})

	t.Run("SingleCandidateIsNotRanked", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		assert.Zero(t, f.registry.liquidityReads)
	})

	t.Run("BudgetForOnePoolPicksTheMostLiquid", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		f.registry.addPool(pool2, 20, 0)
		f.registry.addPool(pool3, 30, 0)

		ctx := state.WithBudget(f.stranger, costPerPool+costPerPool/2)
		require.NoError(t, f.backend.AddOrModifySupportForPair(ctx, tokenA, tokenB, nil))

		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool3}, pools)
		assert.Equal(t, []growth{{pool3, target}}, f.registry.growths)

		ok, err := f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.True(t, ok, "partial admission is success")
	})

	t.Run("ChargesOnlyMissingSlots", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 30, target-2)
		f.registry.addPool(pool2, 20, 0)

		// Enough for topping up pool1 but not for preparing pool2 from scratch.
		budget := uint64(2*DefaultGasPerCardinality + DefaultGasCostToSupportPool + costPerPool - 1)
		require.NoError(t, f.backend.AddOrModifySupportForPair(state.WithBudget(f.stranger, budget), tokenA, tokenB, nil))

		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool1}, pools)
	})

	t.Run("StopsAtFirstUnaffordablePool", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 30, 0)
		f.registry.addPool(pool2, 20, target)

		err := f.backend.AddOrModifySupportForPair(state.WithBudget(f.stranger, 1_000), tokenA, tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrBudgetExhausted)

		var pairErr *engine.PairError
		require.ErrorAs(t, err, &pairErr)
		assert.Equal(t, engine.NewPair(tokenA, tokenB), pairErr.Pair)

		ok, err := f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, f.registry.growths)
		assert.Empty(t, f.events.Events())
	})

	t.Run("NoEligiblePools", func(t *testing.T) {
		f := newFixture(t)
		err := f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnsupported)

		f.registry.addPool(pool1, 10, 0)
		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true}))
		err = f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnsupported)
	})

	t.Run("ReplacesPreviousSet", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, target)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))

		f.registry.addPool(pool2, 20, target)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool2, pool1}, pools)
	})

	t.Run("NestedFailureLeavesParentUntouched", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, 0)
		err := f.db.Update(state.WithBudget(f.stranger, costPerPool), func(ctx context.Context) error {
			require.NoError(t, f.backend.AddOrModifySupportForPair(ctx, tokenA, tokenB, nil))
			// The shared meter is now empty.
			f.registry.addPool(pool2, 50, 0)
			err := f.backend.AddOrModifySupportForPair(ctx, tokenA, tokenB, nil)
			assert.ErrorIs(t, err, engine.ErrBudgetExhausted)
			return nil
		})
		require.NoError(t, err)

		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool1}, pools)
		assert.Equal(t, []growth{{pool1, target}}, f.registry.growths)
	})
}

func TestBackend_AddSupportForPairIfNeeded(t *testing.T) {
	f := newFixture(t)
	f.registry.addPool(pool1, 10, 0)

	require.NoError(t, f.backend.AddSupportForPairIfNeeded(f.stranger, tokenA, tokenB, nil))
	require.NoError(t, f.backend.AddSupportForPairIfNeeded(f.stranger, tokenB, tokenA, nil))
	assert.Len(t, f.registry.growths, 1)
	assert.Len(t, f.events.Events(), 1)
}

func TestBackend_Quote(t *testing.T) {
	t.Run("UnsupportedWithoutPoolSet", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.backend.Quote(f.stranger, tokenA, big.NewInt(1), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnsupported)
	})

	t.Run("RejectsAmountsAbove128Bits", func(t *testing.T) {
		f := newFixture(t)
		tooBig := new(big.Int).Lsh(big.NewInt(1), 128)
		_, err := f.backend.Quote(f.stranger, tokenA, tooBig, tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
		_, err = f.backend.Quote(f.stranger, tokenA, big.NewInt(-1), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
	})

	t.Run("DelegatesOverPersistedSetAndPeriod", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, target)
		f.registry.addPool(pool2, 20, target)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		require.NoError(t, f.backend.SetPeriod(f.admin, 20*time.Minute))

		out, err := f.backend.Quote(f.stranger, tokenB, big.NewInt(7), tokenA, nil)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(21), out)
		assert.Equal(t, []quoteCall{{pools: []common.Address{pool2, pool1}, period: 20 * time.Minute}}, f.registry.quotes)
	})
}

func TestBackend_Params(t *testing.T) {
	t.Run("DefaultsFromConfig", func(t *testing.T) {
		f := newFixture(t)
		period, err := f.backend.Period(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Minute, period)
		gas, err := f.backend.GasPerCardinality(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, uint64(22_250), gas)
		gas, err = f.backend.GasCostToSupportPool(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, uint64(30_000), gas)
	})

	t.Run("SettersRequireAdmin", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.backend.SetPeriod(f.stranger, time.Minute), engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetCardinalityPerMinute(f.stranger, 2), engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetGasPerCardinality(f.stranger, 2), engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetGasCostToSupportPool(f.stranger, 2), engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetDenylisted(f.stranger, []engine.Pair{engine.NewPair(tokenA, tokenB)}, []bool{true}), engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetPoolsDenylisted(f.stranger, []common.Address{pool1}, []bool{true}), engine.ErrAccessDenied)
		assert.Empty(t, f.events.Events())
	})

	t.Run("SettersValidate", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.backend.SetPeriod(f.admin, 30*time.Second), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetPeriod(f.admin, 2*time.Hour), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetCardinalityPerMinute(f.admin, 0), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetGasPerCardinality(f.admin, 0), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetGasCostToSupportPool(f.admin, 0), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetDenylisted(f.admin, nil, nil), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true, false}), engine.ErrInvalidInput)
	})

	t.Run("SettersPersistAndEmit", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.backend.SetPeriod(f.admin, time.Hour))
		require.NoError(t, f.backend.SetCardinalityPerMinute(f.admin, 4))
		require.NoError(t, f.backend.SetGasPerCardinality(f.admin, 5_000))
		require.NoError(t, f.backend.SetGasCostToSupportPool(f.admin, 6_000))

		period, err := f.backend.Period(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, period)
		cpm, err := f.backend.CardinalityPerMinute(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), cpm)

		assert.Equal(t, []state.Event{
			PeriodChanged{Period: time.Hour},
			CardinalityPerMinuteChanged{CardinalityPerMinute: 4},
			GasPerCardinalityChanged{Gas: 5_000},
			GasCostToSupportPoolChanged{Gas: 6_000},
		}, f.events.Events())

		// 60 minutes at 4 per minute.
		f.registry.addPool(pool1, 10, 0)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		assert.Equal(t, []growth{{pool1, 240}}, f.registry.growths)
	})
}

func TestAdmissionCost(t *testing.T) {
	assert.Equal(t, uint64(2*22_250+30_000), admissionCost(2, params{GasPerCardinality: 22_250, GasCostToSupportPool: 30_000}))
	assert.Equal(t, uint64(math.MaxUint64), admissionCost(2, params{GasPerCardinality: 1 << 63, GasCostToSupportPool: 1}))
	assert.Equal(t, uint64(math.MaxUint64), admissionCost(1, params{GasPerCardinality: math.MaxUint64, GasCostToSupportPool: 1}))
}

func TestBackend_OverflowingCostIsUnaffordable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.backend.SetGasPerCardinality(f.admin, 1<<63))
	f.registry.addPool(pool1, 10, target-2)

	ctx := state.WithBudget(f.stranger, DefaultGasCostToSupportPool)
	err := f.backend.AddOrModifySupportForPair(ctx, tokenA, tokenB, nil)
	assert.ErrorIs(t, err, engine.ErrBudgetExhausted)
	assert.Empty(t, f.registry.growths)
}

func TestBackend_Denylist(t *testing.T) {
	t.Run("DenylistingAPoolPurgesItEverywhere", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, target)
		f.registry.addPool(pool2, 20, target)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))

		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool2}, []bool{true}))
		pools, err := f.backend.SupportedPools(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{pool1}, pools)

		denied, err := f.backend.IsPoolDenylisted(f.stranger, pool2)
		require.NoError(t, err)
		assert.True(t, denied)

		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true}))
		ok, err := f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok, "the last pool leaving empties the set")
		_, err = f.backend.Quote(f.stranger, tokenA, big.NewInt(1), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnsupported)
	})

	t.Run("AllowingAPoolAgain", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, target)
		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true}))
		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{false}))
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))
		assert.Contains(t, f.events.Events(), state.Event(PoolDenylistChanged{Pools: []common.Address{pool1}, Denylisted: []bool{false}}))
	})

	t.Run("DenylistingAPairDeletesItsSet", func(t *testing.T) {
		f := newFixture(t)
		f.registry.addPool(pool1, 10, target)
		require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil))

		require.NoError(t, f.backend.SetDenylisted(f.admin, []engine.Pair{{TokenA: tokenB, TokenB: tokenA}}, []bool{true}))
		ok, err := f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
		denied, err := f.backend.IsDenylisted(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.True(t, denied)

		// The pool no longer points at the pair either.
		require.NoError(t, f.backend.SetDenylisted(f.admin, []engine.Pair{engine.NewPair(tokenA, tokenB)}, []bool{false}))
		require.NoError(t, f.backend.SetPoolsDenylisted(f.admin, []common.Address{pool1}, []bool{true}))
		ok, err = f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTargetCardinality(t *testing.T) {
	assert.Equal(t, uint16(10), targetCardinality(600, 1))
	assert.Equal(t, uint16(2), targetCardinality(61, 1))
	assert.Equal(t, uint16(1), targetCardinality(1, 1))
	assert.Equal(t, uint16(90), targetCardinality(1800, 3))
	assert.Equal(t, uint16(math.MaxUint16), targetCardinality(86_400, 1_000))
	assert.Equal(t, uint16(math.MaxUint16), targetCardinality(math.MaxUint64, math.MaxUint64))
}
