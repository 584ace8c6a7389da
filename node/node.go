// Package node assembles an oracle from a configuration: the state store,
// access control, the reference registries and the backends composed as
// transformer -> aggregator -> [identity, pushfeed, twap].
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/config"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/multicall"
	"github.com/defistate/defistate-oracle-go/oracles/aggregator"
	"github.com/defistate/defistate-oracle-go/oracles/identity"
	"github.com/defistate/defistate-oracle-go/oracles/pushfeed"
	"github.com/defistate/defistate-oracle-go/oracles/transformer"
	"github.com/defistate/defistate-oracle-go/oracles/twap"
	"github.com/defistate/defistate-oracle-go/protocols/feedregistry"
	"github.com/defistate/defistate-oracle-go/protocols/tokenregistry"
	"github.com/defistate/defistate-oracle-go/protocols/transformers"
	"github.com/defistate/defistate-oracle-go/protocols/uniswapv3"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/defistate/defistate-oracle-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const DefaultStreamBufferSize = 100

// Node holds the assembled components.
type Node struct {
	DB          *state.DB
	Access      *access.Control
	Tokens      *tokenregistry.TokenSystem
	Pools       *uniswapv3.System
	Feeds       pushfeed.FeedRegistry
	Twap        *twap.Backend
	PushFeed    *pushfeed.Backend
	Aggregator  *aggregator.Aggregator
	Transformer *transformer.Backend
	Multicall   *multicall.Executor

	logger  *slog.Logger
	closers []func()
}

// Oracle is the entry point callers quote through.
func (n *Node) Oracle() engine.PriceOracle {
	return n.Transformer
}

// Options carries the process level dependencies of New.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	// Now is the clock of the pool registry and the feed backend. Defaults to time.Now.
	Now func() time.Time
	// Sink, if set, receives committed events next to the event log.
	Sink state.EventSink
}

// New builds a Node from a validated configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (n *Node, err error) {
	if opts.Logger == nil {
		return nil, errors.New("config: Logger cannot be nil")
	}
	if opts.Registerer == nil {
		return nil, errors.New("config: Registerer cannot be nil")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger

	n = &Node{logger: logger}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	var sink state.EventSink = state.NewLogSink(logger.With("component", "events"))
	if opts.Sink != nil {
		sink = state.MultiSink{sink, opts.Sink}
	}
	n.DB, err = state.Open(&state.Config{
		Path:          cfg.State.Path,
		DefaultBudget: cfg.State.DefaultBudget,
		Sink:          sink,
		Logger:        logger.With("component", "state"),
		Registry:      opts.Registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	n.closers = append(n.closers, func() { _ = n.DB.Close() })

	superAdmin, _ := config.ParseAddress(cfg.Access.SuperAdmin)
	admins := make([]common.Address, len(cfg.Access.Admins))
	for i, a := range cfg.Access.Admins {
		admins[i], _ = config.ParseAddress(a)
	}
	n.Access, err = access.New(ctx, n.DB, superAdmin, admins)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize access control: %w", err)
	}

	if n.Tokens, err = buildTokens(cfg.Tokens); err != nil {
		return nil, err
	}
	if n.Pools, err = buildPools(cfg.Twap.Pools, opts.Now); err != nil {
		return nil, err
	}
	if n.Feeds, err = n.buildFeeds(ctx, cfg.Feeds, opts.Now); err != nil {
		return nil, err
	}

	n.Twap, err = twap.New(&twap.Config{
		DB:                   n.DB,
		Access:               n.Access,
		Registry:             n.Pools,
		Logger:               logger.With("component", "twap"),
		Registerer:           opts.Registerer,
		MinPeriod:            cfg.Twap.MinPeriod.Duration,
		MaxPeriod:            cfg.Twap.MaxPeriod.Duration,
		InitialPeriod:        cfg.Twap.Period.Duration,
		CardinalityPerMinute: cfg.Twap.CardinalityPerMinute,
		GasPerCardinality:    cfg.Twap.GasPerCardinality,
		GasCostToSupportPool: cfg.Twap.GasCostToSupportPool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create twap backend: %w", err)
	}

	n.PushFeed, err = pushfeed.New(&pushfeed.Config{
		DB:         n.DB,
		Access:     n.Access,
		Feeds:      n.Feeds,
		Tokens:     n.Tokens,
		Logger:     logger.With("component", "pushfeed"),
		Registerer: opts.Registerer,
		MaxDelay:   cfg.Feeds.MaxDelay.Duration,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pushfeed backend: %w", err)
	}

	byName := map[string]engine.PriceOracle{
		config.BackendIdentity: identity.New(config.BackendIdentity),
		config.BackendPushFeed: n.PushFeed,
		config.BackendTwap:     n.Twap,
	}
	backends := make([]engine.PriceOracle, 0, len(cfg.Aggregator.Backends))
	for _, name := range cfg.Aggregator.Backends {
		b, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("config: unknown aggregator backend %q", name)
		}
		backends = append(backends, b)
	}
	n.Aggregator, err = aggregator.New(ctx, &aggregator.Config{
		DB:         n.DB,
		Access:     n.Access,
		Backends:   backends,
		Logger:     logger.With("component", "aggregator"),
		Registerer: opts.Registerer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	registry, err := buildTransformers(cfg.Transformers.Ratios)
	if err != nil {
		return nil, err
	}
	n.Transformer, err = transformer.New(&transformer.Config{
		DB:         n.DB,
		Access:     n.Access,
		Registry:   registry,
		Underlying: n.Aggregator,
		Logger:     logger.With("component", "transformer"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transformer backend: %w", err)
	}

	n.Multicall, err = multicall.New(n.DB, n.Oracle())
	if err != nil {
		return nil, err
	}

	if err := n.bootstrap(ctx, cfg, admins); err != nil {
		return nil, fmt.Errorf("failed to bootstrap: %w", err)
	}
	logger.Info("node assembled",
		"backends", cfg.Aggregator.Backends,
		"tokens", len(cfg.Tokens),
		"pools", len(cfg.Twap.Pools),
		"ratios", len(cfg.Transformers.Ratios),
	)
	return n, nil
}

// bootstrap applies the configured mappings and avoid flags as the first admin.
func (n *Node) bootstrap(ctx context.Context, cfg *config.Config, admins []common.Address) error {
	if len(cfg.Feeds.Mappings) == 0 && len(cfg.Transformers.Avoid) == 0 {
		return nil
	}
	ctx = access.WithCaller(ctx, admins[0])
	return n.DB.Update(ctx, func(ctx context.Context) error {
		if len(cfg.Feeds.Mappings) > 0 {
			tokens := make([]common.Address, len(cfg.Feeds.Mappings))
			mapped := make([]common.Address, len(cfg.Feeds.Mappings))
			for i, m := range cfg.Feeds.Mappings {
				tokens[i], _ = config.ParseAddress(m.Token)
				mapped[i], _ = config.ParseAsset(m.Mapped)
			}
			if err := n.PushFeed.AddMappings(ctx, tokens, mapped); err != nil {
				return err
			}
		}
		if len(cfg.Transformers.Avoid) > 0 {
			avoid := make([]common.Address, len(cfg.Transformers.Avoid))
			for i, a := range cfg.Transformers.Avoid {
				avoid[i], _ = config.ParseAddress(a)
			}
			if err := n.Transformer.AvoidMappingToUnderlying(ctx, avoid); err != nil {
				return err
			}
		}
		return nil
	})
}

// StreamPools keeps the pool registry in sync with the pool stream at url
// until ctx is done.
func (n *Node) StreamPools(ctx context.Context, url string) (*client.Client, error) {
	return client.NewClient(ctx, client.Config{
		URL:        url,
		Logger:     n.logger.With("component", "pool-stream"),
		BufferSize: DefaultStreamBufferSize,
		Sink:       n.Pools,
	})
}

// Close releases the store and any RPC connection.
func (n *Node) Close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		n.closers[i]()
	}
	n.closers = nil
}

func buildTokens(tokens []config.TokenConfig) (*tokenregistry.TokenSystem, error) {
	out := make([]tokenregistry.Token, len(tokens))
	for i, t := range tokens {
		addr, err := config.ParseAddress(t.Address)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		out[i] = tokenregistry.Token{Address: addr, Name: t.Name, Symbol: t.Symbol, Decimals: t.Decimals}
	}
	return tokenregistry.NewTokenSystem(out...)
}

func buildPools(pools []config.PoolConfig, now func() time.Time) (*uniswapv3.System, error) {
	system := uniswapv3.NewSystem(&uniswapv3.Config{Now: now})
	for i, p := range pools {
		view := uniswapv3.PoolViewMinimal{Fee: p.Fee, Tick: p.Tick}
		var err error
		if view.Address, err = config.ParseAddress(p.Address); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		if view.Token0, err = config.ParseAddress(p.Token0); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		if view.Token1, err = config.ParseAddress(p.Token1); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		liquidity, ok := new(big.Int).SetString(p.Liquidity, 10)
		if !ok {
			return nil, fmt.Errorf("pool %d: invalid liquidity %q", i, p.Liquidity)
		}
		view.Liquidity = liquidity
		if err := system.AddPool(view); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
	}
	return system, nil
}

func (n *Node) buildFeeds(ctx context.Context, cfg config.FeedsConfig, now func() time.Time) (pushfeed.FeedRegistry, error) {
	if cfg.RPCURL != "" {
		eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
		}
		n.closers = append(n.closers, eth.Close)
		registry, err := config.ParseAddress(cfg.Registry)
		if err != nil {
			return nil, fmt.Errorf("feed registry: %w", err)
		}
		return feedregistry.NewRPC(eth, registry)
	}

	memory := feedregistry.NewMemory()
	for i, f := range cfg.Static {
		base, err := config.ParseAsset(f.Base)
		if err != nil {
			return nil, fmt.Errorf("static feed %d: %w", i, err)
		}
		quote, err := config.ParseAsset(f.Quote)
		if err != nil {
			return nil, fmt.Errorf("static feed %d: %w", i, err)
		}
		price, err := decimal.NewFromString(f.Price)
		if err != nil {
			return nil, fmt.Errorf("static feed %d: %w", i, err)
		}
		if err := memory.SetPrice(base, quote, f.Decimals, price, now()); err != nil {
			return nil, fmt.Errorf("static feed %d: %w", i, err)
		}
	}
	return memory, nil
}

func buildTransformers(ratios []config.RatioConfig) (*transformers.Registry, error) {
	registry := transformers.NewRegistry()
	if len(ratios) == 0 {
		return registry, nil
	}
	ratio := transformers.NewRatioTransformer()
	for i, r := range ratios {
		dependent, err := config.ParseAddress(r.Dependent)
		if err != nil {
			return nil, fmt.Errorf("ratio %d: %w", i, err)
		}
		underlying, err := config.ParseAddress(r.Underlying)
		if err != nil {
			return nil, fmt.Errorf("ratio %d: %w", i, err)
		}
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("ratio %d: %w", i, err)
		}
		if err := ratio.SetRatio(dependent, underlying, rate); err != nil {
			return nil, fmt.Errorf("ratio %d: %w", i, err)
		}
	}
	registry.Register(ratio, ratio.Dependents()...)
	return registry, nil
}
