// Package pushfeed prices pairs from push-style price feeds, bridging
// through USD and ETH when no feed connects the two assets directly.
package pushfeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-oracle-go/access"
	"github.com/defistate/defistate-oracle-go/engine"
	"github.com/defistate/defistate-oracle-go/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultName     = "pushfeed"
	DefaultMaxDelay = 24 * time.Hour
)

// Logger is the logging surface of the backend.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Backend.
type Config struct {
	Name       string
	DB         *state.DB
	Access     *access.Control
	Feeds      FeedRegistry
	Tokens     TokenDecimals
	Logger     Logger
	Registerer prometheus.Registerer
	// MaxDelay is the initial staleness window. Defaults to DefaultMaxDelay.
	MaxDelay time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.DB == nil {
		return errors.New("config: DB cannot be nil")
	}
	if c.Access == nil {
		return errors.New("config: Access cannot be nil")
	}
	if c.Feeds == nil {
		return errors.New("config: Feeds cannot be nil")
	}
	if c.Tokens == nil {
		return errors.New("config: Tokens cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer cannot be nil")
	}
	if c.MaxDelay < 0 {
		return errors.New("config: MaxDelay cannot be negative")
	}
	return nil
}

var (
	plansBucket    = state.NewBucket("pushfeed-plans")
	mappingsBucket = state.NewBucket("pushfeed-mappings")
	paramsBucket   = state.NewBucket("pushfeed-params")

	maxDelayKey = []byte("max-delay")
)

// Backend is the push-feed price oracle.
type Backend struct {
	name     string
	db       *state.DB
	access   *access.Control
	feeds    FeedRegistry
	tokens   TokenDecimals
	logger   Logger
	metrics  *Metrics
	maxDelay time.Duration
	now      func() time.Time
}

var _ engine.PriceOracle = (*Backend)(nil)

// New creates a Backend.
func New(cfg *Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		name:     cfg.Name,
		db:       cfg.DB,
		access:   cfg.Access,
		feeds:    cfg.Feeds,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
		maxDelay: cfg.MaxDelay,
		now:      cfg.Now,
	}
	if b.name == "" {
		b.name = DefaultName
	}
	if b.maxDelay == 0 {
		b.maxDelay = DefaultMaxDelay
	}
	if b.now == nil {
		b.now = time.Now
	}
	b.metrics = NewMetrics(cfg.Registerer, b.name)
	return b, nil
}

func (b *Backend) Name() string { return b.name }

// CanSupportPair reports whether the feeds can price the pair under some plan.
func (b *Backend) CanSupportPair(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	var plan Plan
	err := b.db.View(ctx, func(ctx context.Context) error {
		var err error
		plan, err = b.classifyPair(ctx, tokenA, tokenB)
		return err
	})
	return plan != NoPlan, err
}

// IsPairAlreadySupported reports whether a plan is stored for the pair.
func (b *Backend) IsPairAlreadySupported(ctx context.Context, tokenA, tokenB common.Address) (bool, error) {
	plan, err := b.PlanForPair(ctx, tokenA, tokenB)
	return plan != NoPlan, err
}

// AddSupportForPairIfNeeded classifies the pair unless a plan is stored.
func (b *Backend) AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error {
	return b.db.Update(ctx, func(ctx context.Context) error {
		ok, err := b.IsPairAlreadySupported(ctx, tokenA, tokenB)
		if err != nil || ok {
			return err
		}
		return b.AddOrModifySupportForPair(ctx, tokenA, tokenB, data)
	})
}

// AddOrModifySupportForPair classifies the pair and stores the plan. A pair
// that used to have a plan and lost it is cleared rather than rejected.
func (b *Backend) AddOrModifySupportForPair(ctx context.Context, tokenA, tokenB common.Address, _ []byte) error {
	pair := engine.NewPair(tokenA, tokenB)
	return b.db.Update(ctx, func(ctx context.Context) error {
		plan, err := b.classifyPair(ctx, pair.TokenA, pair.TokenB)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		previous, err := b.storedPlan(ctx, pair)
		if err != nil {
			return err
		}

		if plan == NoPlan {
			if previous == NoPlan {
				return engine.NewPairError(pair, engine.ErrUnsupported)
			}
			b.logger.Warn("pair lost feed support", "pair", pair, "previous", previous)
			if err := plansBucket.Delete(ctx, pair.Key()); err != nil {
				return err
			}
		} else if err := plansBucket.Put(ctx, pair.Key(), uint8(plan)); err != nil {
			return err
		}
		b.logger.Debug("plan updated", "pair", pair, "plan", plan)
		return state.Emit(ctx, PlanUpdated{Pair: pair, Plan: plan})
	})
}

// Quote converts amountIn of tokenIn to tokenOut along the stored plan.
func (b *Backend) Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, _ []byte) (*big.Int, error) {
	pair := engine.NewPair(tokenIn, tokenOut)
	if amountIn == nil || amountIn.Sign() < 0 || amountIn.BitLen() > 128 {
		return nil, engine.NewPairError(pair, fmt.Errorf("%w: amount must be non-negative and fit in 128 bits", engine.ErrInvalidInput))
	}

	var out *big.Int
	err := b.db.View(ctx, func(ctx context.Context) error {
		plan, err := b.storedPlan(ctx, pair)
		if err != nil {
			return err
		}
		if plan == NoPlan {
			return engine.NewPairError(pair, engine.ErrUnresolved)
		}
		out, err = b.convert(ctx, plan, tokenIn, amountIn, tokenOut)
		if err != nil {
			return engine.NewPairError(pair, err)
		}
		return nil
	})
	return out, err
}

// convert computes amountIn * prod(num) * 10^decOut / (prod(den) * 10^decIn)
// with a single division at the end.
func (b *Backend) convert(ctx context.Context, plan Plan, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address) (*big.Int, error) {
	mappedIn, err := b.mapped(ctx, tokenIn)
	if err != nil {
		return nil, err
	}
	mappedOut, err := b.mapped(ctx, tokenOut)
	if err != nil {
		return nil, err
	}
	hops, err := b.route(ctx, plan, mappedIn, mappedOut)
	if err != nil {
		return nil, err
	}

	decIn, err := b.tokens.Decimals(ctx, tokenIn)
	if err != nil {
		return nil, fmt.Errorf("decimals of %s: %w", tokenIn, err)
	}
	decOut, err := b.tokens.Decimals(ctx, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("decimals of %s: %w", tokenOut, err)
	}

	num := new(big.Int).Mul(amountIn, pow10(decOut))
	den := pow10(decIn)
	for _, h := range hops {
		n, d, err := b.hopRate(ctx, h)
		if err != nil {
			return nil, err
		}
		num.Mul(num, n)
		den.Mul(den, d)
	}
	return num.Quo(num, den), nil
}

// hopRate returns the rate of a hop as a fraction, reading the forward feed
// or else inverting the reverse one.
func (b *Backend) hopRate(ctx context.Context, h hop) (*big.Int, *big.Int, error) {
	if h.from == h.to {
		return big.NewInt(1), big.NewInt(1), nil
	}
	forward, err := b.feedExists(ctx, h.from, h.to)
	if err != nil {
		return nil, nil, err
	}
	base, quote := h.from, h.to
	if !forward {
		reverse, err := b.feedExists(ctx, h.to, h.from)
		if err != nil {
			return nil, nil, err
		}
		if !reverse {
			return nil, nil, fmt.Errorf("%w: no feed between %s and %s", engine.ErrUnsupported, h.from, h.to)
		}
		base, quote = h.to, h.from
	}

	answer, decimals, err := b.read(ctx, base, quote)
	if err != nil {
		return nil, nil, err
	}
	if forward {
		return answer, pow10(decimals), nil
	}
	return pow10(decimals), answer, nil
}

// read returns a validated feed answer and its decimals.
func (b *Backend) read(ctx context.Context, base, quote common.Address) (*big.Int, uint8, error) {
	decimals, err := b.feeds.Decimals(ctx, base, quote)
	if err != nil {
		return nil, 0, fmt.Errorf("feed %s/%s: %w", base, quote, err)
	}
	round, err := b.feeds.LatestRoundData(ctx, base, quote)
	if err != nil {
		b.metrics.feedReads.WithLabelValues("error").Inc()
		return nil, 0, fmt.Errorf("%w: feed %s/%s: %w", engine.ErrStaleOrInvalidFeed, base, quote, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		b.metrics.feedReads.WithLabelValues("invalid").Inc()
		return nil, 0, fmt.Errorf("%w: feed %s/%s answered %v", engine.ErrStaleOrInvalidFeed, base, quote, round.Answer)
	}
	maxDelay, err := b.currentMaxDelay(ctx)
	if err != nil {
		return nil, 0, err
	}
	if age := b.now().Sub(round.UpdatedAt); age > maxDelay {
		b.metrics.feedReads.WithLabelValues("stale").Inc()
		return nil, 0, fmt.Errorf("%w: feed %s/%s is %s old", engine.ErrStaleOrInvalidFeed, base, quote, age.Round(time.Second))
	}
	b.metrics.feedReads.WithLabelValues("ok").Inc()
	return round.Answer, decimals, nil
}

func (b *Backend) classifyPair(ctx context.Context, tokenA, tokenB common.Address) (Plan, error) {
	mappedA, err := b.mapped(ctx, tokenA)
	if err != nil {
		return NoPlan, err
	}
	mappedB, err := b.mapped(ctx, tokenB)
	if err != nil {
		return NoPlan, err
	}
	return b.classify(ctx, mappedA, mappedB)
}

func (b *Backend) storedPlan(ctx context.Context, pair engine.Pair) (Plan, error) {
	var raw uint8
	if _, err := plansBucket.Get(ctx, pair.Key(), &raw); err != nil {
		return NoPlan, err
	}
	return Plan(raw), nil
}

// mapped returns the feed key token stands for.
func (b *Backend) mapped(ctx context.Context, token common.Address) (common.Address, error) {
	var to common.Address
	ok, err := mappingsBucket.Get(ctx, token.Bytes(), &to)
	if err != nil || !ok {
		return token, err
	}
	return to, nil
}

func (b *Backend) currentMaxDelay(ctx context.Context) (time.Duration, error) {
	var seconds uint64
	ok, err := paramsBucket.Get(ctx, maxDelayKey, &seconds)
	if err != nil || !ok {
		return b.maxDelay, err
	}
	return time.Duration(seconds) * time.Second, nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
