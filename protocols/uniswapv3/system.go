package uniswapv3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-oracle-go/protocols/tokenpoolregistry"
	"github.com/defistate/defistate-oracle-go/protocols/uniswapv3/tickmath"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrPoolNotFound        = errors.New("uniswapv3: pool not found")
	ErrPoolExists          = errors.New("uniswapv3: pool already registered")
	ErrInvalidPool         = errors.New("uniswapv3: invalid pool")
	ErrObservationTooOld   = errors.New("uniswapv3: observation older than buffer")
	ErrPoolTokensMismatch  = errors.New("uniswapv3: pool does not trade the pair")
	ErrNoPools             = errors.New("uniswapv3: no pools given")
	ErrInvalidPeriod       = errors.New("uniswapv3: period must be at least one second")
	ErrTimestampRegression = errors.New("uniswapv3: observation timestamp before last write")
)

// Config configures a System.
type Config struct {
	// Now returns the current time. Defaults to time.Now.
	Now                 func() time.Time
	CompactionThreshold int
}

// System is an in-memory, concurrency-safe registry of Uniswap V3 pools and
// their observation buffers. It answers time-weighted quotes across a set
// of pools.
type System struct {
	mu    sync.RWMutex
	pools map[common.Address]*Pool
	index *tokenpoolregistry.TokenPoolSystem
	now   func() time.Time
}

// NewSystem creates an empty System.
func NewSystem(cfg *Config) *System {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &System{
		pools: make(map[common.Address]*Pool),
		index: tokenpoolregistry.NewTokenPoolSystem(cfg.CompactionThreshold),
		now:   now,
	}
}

func (s *System) timestamp() uint64 {
	return uint64(s.now().Unix())
}

// --- Write Methods ---

// AddPool registers a pool. Its observation buffer starts with one slot
// written at the current time.
func (s *System) AddPool(view PoolViewMinimal) error {
	if view.Address == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidPool)
	}
	if bytes.Compare(view.Token0.Bytes(), view.Token1.Bytes()) >= 0 {
		return fmt.Errorf("%w: token0 must sort before token1", ErrInvalidPool)
	}
	if view.Liquidity == nil || view.Liquidity.Sign() < 0 {
		return fmt.Errorf("%w: liquidity must be non-negative", ErrInvalidPool)
	}
	if view.Tick < tickmath.MinTick || view.Tick > tickmath.MaxTick {
		return fmt.Errorf("%w: %w", ErrInvalidPool, tickmath.ErrTickOutOfBounds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[view.Address]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, view.Address)
	}
	view.Liquidity = new(big.Int).Set(view.Liquidity)
	view.ObservationCardinality = 1
	if view.ObservationCardinalityNext < 1 {
		view.ObservationCardinalityNext = 1
	}
	s.pools[view.Address] = &Pool{
		PoolViewMinimal: view,
		Observations:    []Observation{{Timestamp: s.timestamp(), TickCumulative: new(big.Int)}},
	}
	s.index.AddPool([]common.Address{view.Token0, view.Token1}, view.Address)
	return nil
}

// RemovePool forgets a pool.
func (s *System) RemovePool(pool common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, pool)
	s.index.RemovePool(pool)
}

// Observe records that the pool moved to tick with the given in-range
// liquidity at the current time. The previous tick accrues into the
// cumulative for the elapsed interval.
func (s *System) Observe(pool common.Address, tick int64, liquidity *big.Int) error {
	if tick < tickmath.MinTick || tick > tickmath.MaxTick {
		return tickmath.ErrTickOutOfBounds
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}

	now := s.timestamp()
	last := p.Observations[len(p.Observations)-1]
	if now < last.Timestamp {
		return ErrTimestampRegression
	}
	if now > last.Timestamp {
		elapsed := new(big.Int).SetUint64(now - last.Timestamp)
		cumulative := new(big.Int).Mul(big.NewInt(p.Tick), elapsed)
		cumulative.Add(cumulative, last.TickCumulative)

		// The buffer only grows when a write lands in a fresh slot.
		if p.ObservationCardinalityNext > p.ObservationCardinality && len(p.Observations) == int(p.ObservationCardinality) {
			p.ObservationCardinality = p.ObservationCardinalityNext
		}
		p.Observations = append(p.Observations, Observation{Timestamp: now, TickCumulative: cumulative})
		if len(p.Observations) > int(p.ObservationCardinality) {
			p.Observations = p.Observations[len(p.Observations)-int(p.ObservationCardinality):]
		}
	}

	p.Tick = tick
	if liquidity != nil {
		p.Liquidity = new(big.Int).Set(liquidity)
	}
	return nil
}

// --- Read Methods ---

// Pool returns a copy of the pool.
func (s *System) Pool(pool common.Address) (Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[pool]
	if !ok {
		return Pool{}, false
	}
	out := *p
	out.Liquidity = new(big.Int).Set(p.Liquidity)
	out.Observations = make([]Observation, len(p.Observations))
	for i, o := range p.Observations {
		out.Observations[i] = Observation{Timestamp: o.Timestamp, TickCumulative: new(big.Int).Set(o.TickCumulative)}
	}
	return out, true
}

// PoolsForPair returns the pools trading the two tokens in registration order.
func (s *System) PoolsForPair(_ context.Context, tokenA, tokenB common.Address) ([]common.Address, error) {
	return s.index.PoolsForPair(tokenA, tokenB), nil
}

// Liquidity returns the in-range liquidity of the pool.
func (s *System) Liquidity(_ context.Context, pool common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[pool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	return new(big.Int).Set(p.Liquidity), nil
}

// ObservationCardinality returns the size the pool's buffer is set to grow to.
func (s *System) ObservationCardinality(_ context.Context, pool common.Address) (uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[pool]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	return p.ObservationCardinalityNext, nil
}

// IncreaseObservationCardinality raises the buffer target. Lower targets are ignored.
func (s *System) IncreaseObservationCardinality(_ context.Context, pool common.Address, target uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[pool]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, pool)
	}
	if target > p.ObservationCardinalityNext {
		p.ObservationCardinalityNext = target
	}
	return nil
}

// QuoteWithTimePeriod returns the value of amountIn tokenIn in tokenOut at the
// liquidity-weighted mean of the pools' time-weighted ticks over period.
func (s *System) QuoteWithTimePeriod(_ context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, pools []common.Address, period time.Duration) (*big.Int, error) {
	if len(pools) == 0 {
		return nil, ErrNoPools
	}
	seconds := uint64(period / time.Second)
	if seconds == 0 {
		return nil, ErrInvalidPeriod
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.timestamp()
	if now < seconds {
		return nil, ErrObservationTooOld
	}
	weightedSum := new(big.Int)
	totalWeight := new(big.Int)
	tickSum := new(big.Int)
	for _, addr := range pools {
		p, ok := s.pools[addr]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr)
		}
		if !(p.Token0 == tokenIn && p.Token1 == tokenOut) && !(p.Token0 == tokenOut && p.Token1 == tokenIn) {
			return nil, fmt.Errorf("%w: %s", ErrPoolTokensMismatch, addr)
		}
		meanTick, err := p.meanTick(now, seconds)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", addr, err)
		}
		tick := big.NewInt(meanTick)
		tickSum.Add(tickSum, tick)
		weightedSum.Add(weightedSum, new(big.Int).Mul(tick, p.Liquidity))
		totalWeight.Add(totalWeight, p.Liquidity)
	}

	var tick int64
	if totalWeight.Sign() == 0 {
		tick = floorDiv(tickSum, big.NewInt(int64(len(pools))))
	} else {
		tick = floorDiv(weightedSum, totalWeight)
	}
	return tickmath.QuoteAtTick(tick, amountIn, tokenIn, tokenOut)
}

// meanTick is the arithmetic mean tick over the last seconds before now.
func (p *Pool) meanTick(now, seconds uint64) (int64, error) {
	current, err := p.cumulativeAt(now)
	if err != nil {
		return 0, err
	}
	past, err := p.cumulativeAt(now - seconds)
	if err != nil {
		return 0, err
	}
	return tickmath.MeanTick(new(big.Int).Sub(current, past), seconds), nil
}

// cumulativeAt interpolates the tick cumulative at timestamp t.
func (p *Pool) cumulativeAt(t uint64) (*big.Int, error) {
	if t < p.Observations[0].Timestamp {
		return nil, ErrObservationTooOld
	}
	last := p.Observations[len(p.Observations)-1]
	if t >= last.Timestamp {
		elapsed := new(big.Int).SetUint64(t - last.Timestamp)
		out := new(big.Int).Mul(big.NewInt(p.Tick), elapsed)
		return out.Add(out, last.TickCumulative), nil
	}
	for i := len(p.Observations) - 2; i >= 0; i-- {
		before := p.Observations[i]
		if before.Timestamp > t {
			continue
		}
		after := p.Observations[i+1]
		delta := new(big.Int).Sub(after.TickCumulative, before.TickCumulative)
		delta.Mul(delta, new(big.Int).SetUint64(t-before.Timestamp))
		delta.Quo(delta, new(big.Int).SetUint64(after.Timestamp-before.Timestamp))
		return delta.Add(delta, before.TickCumulative), nil
	}
	return nil, ErrObservationTooOld
}

func floorDiv(a, b *big.Int) int64 {
	// b is positive, so Euclidean division floors.
	return new(big.Int).Div(a, b).Int64()
}
