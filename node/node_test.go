package node

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/config"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/oracles/aggregator"
	"github.com/defistate/defistate-oracle-go/oracles/twap"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/defistate/defistate-oracle-go/state/statetest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	superAdmin = "0x00000000000000000000000000000000000000aa"
	admin      = "0x00000000000000000000000000000000000000ab"

	wbtc    = "0x1000000000000000000000000000000000000001"
	usdc    = "0x2000000000000000000000000000000000000002"
	weth    = "0x3000000000000000000000000000000000000003"
	wrapped = "0x4000000000000000000000000000000000000004"
	avoided = "0x5000000000000000000000000000000000000005"
)

func e(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }

func testConfig() *config.Config {
	cfg := &config.Config{
		Access: config.AccessConfig{SuperAdmin: superAdmin, Admins: []string{admin}},
		Tokens: []config.TokenConfig{
			{Address: wbtc, Symbol: "WBTC", Decimals: 8},
			{Address: usdc, Symbol: "USDC", Decimals: 6},
			{Address: weth, Symbol: "WETH", Decimals: 18},
			{Address: wrapped, Symbol: "wWETH", Decimals: 18},
			{Address: avoided, Symbol: "aWETH", Decimals: 18},
		},
		Twap: config.TwapConfig{
			Pools: []config.PoolConfig{
				{Address: "0x00000000000000000000000000000000000000f1", Token0: usdc, Token1: weth, Fee: 500, Liquidity: "1000000"},
			},
		},
		Feeds: config.FeedsConfig{
			Static:   []config.StaticFeed{{Base: wbtc, Quote: "USD", Decimals: 8, Price: "64000"}},
			Mappings: []config.MappingConfig{{Token: usdc, Mapped: "usd"}},
		},
		Transformers: config.TransformerConfig{
			Ratios: []config.RatioConfig{
				{Dependent: wrapped, Underlying: weth, Rate: "2"},
				{Dependent: avoided, Underlying: weth, Rate: "1"},
			},
			Avoid: []string{avoided},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func build(t *testing.T, cfg *config.Config, c *clock) (*Node, *state.Recorder) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	rec := state.NewRecorder()
	n, err := New(context.Background(), cfg, Options{
		Logger:     statetest.Logger(),
		Registerer: prometheus.NewRegistry(),
		Now:        c.now,
		Sink:       rec,
	})
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n, rec
}

func TestNew(t *testing.T) {
	t.Run("Validation", func(t *testing.T) {
		_, err := New(context.Background(), testConfig(), Options{Registerer: prometheus.NewRegistry()})
		assert.ErrorContains(t, err, "Logger cannot be nil")
		_, err = New(context.Background(), testConfig(), Options{Logger: statetest.Logger()})
		assert.ErrorContains(t, err, "Registerer cannot be nil")
	})

	t.Run("BadPool", func(t *testing.T) {
		cfg := testConfig()
		cfg.Twap.Pools[0].Token0, cfg.Twap.Pools[0].Token1 = weth, usdc
		_, err := New(context.Background(), cfg, Options{Logger: statetest.Logger(), Registerer: prometheus.NewRegistry()})
		assert.ErrorContains(t, err, "pool 0")
	})

	t.Run("AggregatorOrderFollowsConfig", func(t *testing.T) {
		cfg := testConfig()
		cfg.Aggregator.Backends = []string{config.BackendTwap, config.BackendIdentity}
		n, _ := build(t, cfg, &clock{t: time.Unix(1_700_000_000, 0)})
		names, err := n.Aggregator.AvailableBackends(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{config.BackendTwap, config.BackendIdentity}, names)
	})

	t.Run("BootstrapsAsFirstAdmin", func(t *testing.T) {
		n, rec := build(t, testConfig(), &clock{t: time.Unix(1_700_000_000, 0)})
		ctx := context.Background()

		a, b, err := n.Transformer.MappingForPair(ctx, common.HexToAddress(avoided), common.HexToAddress(usdc))
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(avoided), a)
		assert.Equal(t, common.HexToAddress(usdc), b)

		ok, err := n.Access.HasRole(ctx, access.Admin, common.HexToAddress(admin))
		require.NoError(t, err)
		assert.True(t, ok)

		names := map[string]bool{}
		for _, ev := range rec.Events() {
			names[ev.EventName()] = true
		}
		assert.True(t, names["MappingsAdded"], "feed mappings applied")
		assert.True(t, names["DependentsWillAvoidMappingToUnderlying"], "avoid flags applied")
	})
}

func TestNode_EndToEnd(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	n, _ := build(t, testConfig(), c)
	oracle := n.Oracle()

	t.Run("UnconfiguredPairIsUnresolved", func(t *testing.T) {
		_, err := oracle.Quote(ctx, common.HexToAddress(wbtc), e(8), common.HexToAddress(usdc), nil)
		assert.ErrorIs(t, err, engine.ErrUnresolved)
	})

	t.Run("PushFeedPricesAnchoredPair", func(t *testing.T) {
		require.NoError(t, oracle.AddOrModifySupportForPair(ctx, common.HexToAddress(wbtc), common.HexToAddress(usdc), nil))
		assigned, err := n.Aggregator.AssignedBackend(ctx, common.HexToAddress(wbtc), common.HexToAddress(usdc))
		require.NoError(t, err)
		assert.Equal(t, aggregator.Assignment{Backend: config.BackendPushFeed}, assigned)

		out, err := oracle.Quote(ctx, common.HexToAddress(wbtc), e(8), common.HexToAddress(usdc), nil)
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Mul(big.NewInt(64_000), e(6)), out)
	})

	t.Run("IdentityWinsForSameToken", func(t *testing.T) {
		require.NoError(t, oracle.AddOrModifySupportForPair(ctx, common.HexToAddress(weth), common.HexToAddress(weth), nil))
		out, err := oracle.Quote(ctx, common.HexToAddress(weth), e(18), common.HexToAddress(weth), nil)
		require.NoError(t, err)
		assert.Equal(t, e(18), out)
	})

	t.Run("WrappedTokenRoutesThroughTwap", func(t *testing.T) {
		require.NoError(t, oracle.AddOrModifySupportForPair(ctx, common.HexToAddress(wrapped), common.HexToAddress(usdc), nil))
		assigned, err := n.Aggregator.AssignedBackend(ctx, common.HexToAddress(weth), common.HexToAddress(usdc))
		require.NoError(t, err)
		assert.Equal(t, twap.DefaultName, assigned.Backend)

		c.t = c.t.Add(time.Hour)
		// Tick 0 prices one raw unit of WETH at one raw unit of USDC.
		out, err := oracle.Quote(ctx, common.HexToAddress(wrapped), e(18), common.HexToAddress(usdc), nil)
		require.NoError(t, err)
		assert.Equal(t, new(big.Int).Mul(big.NewInt(2), e(18)), out)
	})

	t.Run("MulticallSharesTheOracle", func(t *testing.T) {
		call, err := n.Multicall.Pack("isPairAlreadySupported", common.HexToAddress(usdc), common.HexToAddress(wbtc))
		require.NoError(t, err)
		results, err := n.Multicall.Multicall(ctx, [][]byte{call})
		require.NoError(t, err)
		out, err := n.Multicall.Unpack("isPairAlreadySupported", results[0])
		require.NoError(t, err)
		assert.Equal(t, []any{true}, out)
	})
}
