package pushfeed_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/oracles/pushfeed"
	"github.com/defistate/defistate-oracle-go/protocols/feedregistry"
	"github.com/defistate/defistate-oracle-go/protocols/tokenregistry"
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

	tokenA = common.HexToAddress("0xa000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0xb000000000000000000000000000000000000002")
	tokenC = common.HexToAddress("0xc000000000000000000000000000000000000003")
	dai    = common.HexToAddress("0xd000000000000000000000000000000000000004")
	weth   = common.HexToAddress("0xe000000000000000000000000000000000000005")

	usd = pushfeed.USD
	eth = pushfeed.ETH
)

func e(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func mul(a int64, b *big.Int) *big.Int { return new(big.Int).Mul(big.NewInt(a), b) }

type fixture struct {
	backend  *pushfeed.Backend
	feeds    *feedregistry.Memory
	events   *state.Recorder
	now      time.Time
	admin    context.Context
	stranger context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, rec := statetest.New(t)
	ac, err := access.New(ctx, db, superAdmin, []common.Address{admin})
	require.NoError(t, err)
	tokens, err := tokenregistry.NewTokenSystem(
		tokenregistry.Token{Address: tokenA, Symbol: "A", Decimals: 18},
		tokenregistry.Token{Address: tokenB, Symbol: "B", Decimals: 6},
		tokenregistry.Token{Address: tokenC, Symbol: "C", Decimals: 8},
		tokenregistry.Token{Address: dai, Symbol: "DAI", Decimals: 18},
		tokenregistry.Token{Address: weth, Symbol: "WETH", Decimals: 18},
	)
	require.NoError(t, err)

	f := &fixture{
		feeds:    feedregistry.NewMemory(),
		events:   rec,
		now:      time.Unix(1_700_000_000, 0),
		admin:    access.WithCaller(ctx, admin),
		stranger: access.WithCaller(ctx, stranger),
	}
	f.backend, err = pushfeed.New(&pushfeed.Config{
		DB:         db,
		Access:     ac,
		Feeds:      f.feeds,
		Tokens:     tokens,
		Logger:     statetest.Logger(),
		Registerer: prometheus.NewRegistry(),
		Now:        func() time.Time { return f.now },
	})
	require.NoError(t, err)
	rec.Reset()
	return f
}

func (f *fixture) feed(base, quote common.Address, decimals uint8, answer *big.Int) {
	f.feeds.SetFeed(base, quote, decimals, answer, f.now)
}

func (f *fixture) configure(t *testing.T, a, b common.Address) pushfeed.Plan {
	t.Helper()
	require.NoError(t, f.backend.AddOrModifySupportForPair(f.stranger, a, b, nil))
	plan, err := f.backend.PlanForPair(f.stranger, b, a)
	require.NoError(t, err)
	return plan
}

func TestBackend_Classification(t *testing.T) {
	t.Run("Direct", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenB, tokenA, 8, e(8))
		assert.Equal(t, pushfeed.Direct, f.configure(t, tokenA, tokenB))
	})

	t.Run("SameMappedAsset", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{tokenA, tokenB}, []common.Address{tokenC, tokenC}))
		assert.Equal(t, pushfeed.Direct, f.configure(t, tokenA, tokenB))
	})

	t.Run("AnchorUSDThroughRemap", func(t *testing.T) {
		f := newFixture(t)
		f.feed(weth, usd, 8, mul(2000, e(8)))
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{usd}))
		assert.Equal(t, pushfeed.AnchorUSD, f.configure(t, weth, dai))
	})

	t.Run("AnchorETH", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenC, eth, 18, e(17))
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{weth}, []common.Address{eth}))
		assert.Equal(t, pushfeed.AnchorETH, f.configure(t, weth, tokenC))
	})

	t.Run("DirectFeedQuotedInAnchor", func(t *testing.T) {
		f := newFixture(t)
		f.feed(usd, tokenA, 8, e(8))
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{usd}))
		assert.Equal(t, pushfeed.Direct, f.configure(t, tokenA, dai))
		ok, err := f.backend.CanSupportPair(f.stranger, dai, tokenA)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ForwardAnchorFeedWinsOverReverse", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, usd, 8, e(8))
		f.feed(usd, tokenA, 8, e(8))
		assert.Equal(t, pushfeed.AnchorUSD, f.configure(t, tokenA, usd))
	})

	t.Run("BridgedUSDBeforeBridgedETH", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, usd, 8, e(8))
		f.feed(tokenB, usd, 8, e(8))
		f.feed(tokenA, eth, 18, e(18))
		f.feed(tokenB, eth, 18, e(18))
		assert.Equal(t, pushfeed.BridgedUSD, f.configure(t, tokenA, tokenB))
	})

	t.Run("BridgedETH", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, eth, 18, e(18))
		f.feed(tokenB, eth, 18, e(18))
		assert.Equal(t, pushfeed.BridgedETH, f.configure(t, tokenA, tokenB))
	})

	t.Run("CrossAnchorNeedsETHUSD", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, usd, 8, e(8))
		f.feed(tokenB, eth, 18, e(18))
		ok, err := f.backend.CanSupportPair(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)

		f.feed(eth, usd, 8, mul(2000, e(8)))
		assert.Equal(t, pushfeed.CrossAnchor, f.configure(t, tokenB, tokenA))
	})

	t.Run("NoPlanIsUnsupported", func(t *testing.T) {
		f := newFixture(t)
		err := f.backend.AddOrModifySupportForPair(f.stranger, tokenA, tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnsupported)
		assert.Empty(t, f.events.Events())
	})

	t.Run("LosingSupportClearsThePlan", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, tokenB, 8, e(8))
		assert.Equal(t, pushfeed.Direct, f.configure(t, tokenA, tokenB))

		f.feeds.RemoveFeed(tokenA, tokenB)
		assert.Equal(t, pushfeed.NoPlan, f.configure(t, tokenA, tokenB))
		ok, err := f.backend.IsPairAlreadySupported(f.stranger, tokenA, tokenB)
		require.NoError(t, err)
		assert.False(t, ok)

		pair := engine.NewPair(tokenA, tokenB)
		assert.Equal(t, []state.Event{
			pushfeed.PlanUpdated{Pair: pair, Plan: pushfeed.Direct},
			pushfeed.PlanUpdated{Pair: pair, Plan: pushfeed.NoPlan},
		}, f.events.Events())

		_, err = f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnresolved)
	})
}

func TestBackend_Quote(t *testing.T) {
	t.Run("CrossAnchorWorkedExample", func(t *testing.T) {
		f := newFixture(t)
		// A = 2 USD, B = 0.5 ETH, ETH = 2000 USD.
		f.feed(tokenA, usd, 8, mul(2, e(8)))
		f.feed(tokenB, eth, 18, mul(5, e(17)))
		f.feed(eth, usd, 8, mul(2000, e(8)))
		require.Equal(t, pushfeed.CrossAnchor, f.configure(t, tokenA, tokenB))

		// 2 / 2000 / 0.5 = 0.002 B per A, and B has 6 decimals.
		out, err := f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(2_000), out)

		back, err := f.backend.Quote(f.stranger, tokenB, big.NewInt(2_000), tokenA, nil)
		require.NoError(t, err)
		assert.Equal(t, e(18), back)
	})

	t.Run("DirectInBothDirections", func(t *testing.T) {
		f := newFixture(t)
		// 1 C = 4 A.
		f.feed(tokenC, tokenA, 8, mul(4, e(8)))
		f.configure(t, tokenA, tokenC)

		out, err := f.backend.Quote(f.stranger, tokenC, e(8), tokenA, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(4, e(18)), out)

		out, err = f.backend.Quote(f.stranger, tokenA, mul(2, e(18)), tokenC, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(5, e(7)), out)
	})

	t.Run("SameMappedAssetRescalesDecimals", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{tokenA, tokenB}, []common.Address{tokenC, tokenC}))
		f.configure(t, tokenA, tokenB)
		out, err := f.backend.Quote(f.stranger, tokenA, mul(3, e(18)), tokenB, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(3, e(6)), out)
	})

	t.Run("AnchorUSDUsesOriginalDecimals", func(t *testing.T) {
		f := newFixture(t)
		f.feed(weth, usd, 8, mul(2000, e(8)))
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{usd}))
		f.configure(t, weth, dai)

		out, err := f.backend.Quote(f.stranger, weth, e(18), dai, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(2000, e(18)), out)
		out, err = f.backend.Quote(f.stranger, dai, mul(1000, e(18)), weth, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(5, e(17)), out)
	})

	t.Run("DirectFeedQuotedInAnchor", func(t *testing.T) {
		f := newFixture(t)
		// 1 USD = 0.0005 WETH.
		f.feed(usd, weth, 8, big.NewInt(50_000))
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{usd}))
		require.Equal(t, pushfeed.Direct, f.configure(t, weth, dai))

		out, err := f.backend.Quote(f.stranger, dai, mul(1000, e(18)), weth, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(5, e(17)), out)
		out, err = f.backend.Quote(f.stranger, weth, e(18), dai, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(2000, e(18)), out)
	})

	t.Run("BridgedUSD", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, usd, 8, mul(3, e(8)))
		f.feed(tokenC, usd, 8, mul(6, e(8)))
		f.configure(t, tokenA, tokenC)
		out, err := f.backend.Quote(f.stranger, tokenA, e(18), tokenC, nil)
		require.NoError(t, err)
		assert.Equal(t, mul(5, e(7)), out)
	})

	t.Run("StaleAndInvalidFeeds", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, tokenB, 8, e(8))
		f.configure(t, tokenA, tokenB)

		f.now = f.now.Add(24*time.Hour + time.Second)
		_, err := f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrStaleOrInvalidFeed)

		require.NoError(t, f.backend.SetMaxDelay(f.admin, 48*time.Hour))
		_, err = f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		assert.NoError(t, err)

		f.feed(tokenA, tokenB, 8, big.NewInt(0))
		_, err = f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrStaleOrInvalidFeed)
	})

	t.Run("RejectsNegativeAmounts", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.backend.Quote(f.stranger, tokenA, big.NewInt(-1), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
	})

	t.Run("RejectsAmountsAbove128Bits", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, tokenB, 8, e(8))
		f.configure(t, tokenA, tokenB)
		limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
		_, err := f.backend.Quote(f.stranger, tokenA, limit, tokenB, nil)
		assert.NoError(t, err)
		_, err = f.backend.Quote(f.stranger, tokenA, new(big.Int).Add(limit, big.NewInt(1)), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidInput)
	})

	t.Run("UnconfiguredIsUnresolved", func(t *testing.T) {
		f := newFixture(t)
		f.feed(tokenA, tokenB, 8, e(8))
		_, err := f.backend.Quote(f.stranger, tokenA, e(18), tokenB, nil)
		assert.ErrorIs(t, err, engine.ErrUnresolved)
	})
}

func TestBackend_AddSupportForPairIfNeeded(t *testing.T) {
	f := newFixture(t)
	f.feed(tokenA, tokenB, 8, e(8))
	require.NoError(t, f.backend.AddSupportForPairIfNeeded(f.stranger, tokenA, tokenB, nil))
	require.NoError(t, f.backend.AddSupportForPairIfNeeded(f.stranger, tokenB, tokenA, nil))
	assert.Len(t, f.events.Events(), 1)
}

func TestBackend_Admin(t *testing.T) {
	t.Run("RequiresAdmin", func(t *testing.T) {
		f := newFixture(t)
		err := f.backend.AddMappings(f.stranger, []common.Address{dai}, []common.Address{usd})
		assert.ErrorIs(t, err, engine.ErrAccessDenied)
		assert.ErrorIs(t, f.backend.SetMaxDelay(f.stranger, time.Hour), engine.ErrAccessDenied)
	})

	t.Run("Validates", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.backend.AddMappings(f.admin, nil, nil), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.AddMappings(f.admin, []common.Address{dai}, nil), engine.ErrInvalidInput)
		assert.ErrorIs(t, f.backend.SetMaxDelay(f.admin, 0), engine.ErrInvalidInput)
	})

	t.Run("MappingsAndMaxDelay", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{usd}))
		mapped, err := f.backend.MappedToken(f.stranger, dai)
		require.NoError(t, err)
		assert.Equal(t, usd, mapped)

		require.NoError(t, f.backend.AddMappings(f.admin, []common.Address{dai}, []common.Address{{}}))
		mapped, err = f.backend.MappedToken(f.stranger, dai)
		require.NoError(t, err)
		assert.Equal(t, dai, mapped)

		d, err := f.backend.MaxDelay(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, pushfeed.DefaultMaxDelay, d)
		require.NoError(t, f.backend.SetMaxDelay(f.admin, time.Hour))
		d, err = f.backend.MaxDelay(f.stranger)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, d)

		assert.Equal(t, []state.Event{
			pushfeed.MappingsAdded{Tokens: []common.Address{dai}, Mapped: []common.Address{usd}},
			pushfeed.MappingsAdded{Tokens: []common.Address{dai}, Mapped: []common.Address{{}}},
			pushfeed.MaxDelayChanged{MaxDelay: time.Hour},
		}, f.events.Events())
	})
}

func TestPlan_String(t *testing.T) {
	assert.Equal(t, "cross-anchor", pushfeed.CrossAnchor.String())
	assert.Equal(t, "plan(9)", pushfeed.Plan(9).String())
}
