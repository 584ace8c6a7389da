// Package feedregistry provides feed registries for the push-feed backend:
// an in-memory one for static and test feeds, and one that reads a
// Chainlink-style FeedRegistry contract over JSON-RPC.
package feedregistry

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-oracle-go/oracles/pushfeed"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Denominations re-exported for callers configuring feeds.
var (
	USD = pushfeed.USD
	ETH = pushfeed.ETH
)

type feedKey struct {
	base, quote common.Address
}

type feed struct {
	decimals uint8
	round    pushfeed.Round
}

// Memory is a concurrency-safe in-memory FeedRegistry.
type Memory struct {
	mu    sync.RWMutex
	feeds map[feedKey]feed
}

func NewMemory() *Memory {
	return &Memory{feeds: make(map[feedKey]feed)}
}

// --- Write Methods ---

// SetFeed stores the latest answer of the base/quote feed.
func (m *Memory) SetFeed(base, quote common.Address, decimals uint8, answer *big.Int, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feedKey{base, quote}] = feed{
		decimals: decimals,
		round:    pushfeed.Round{Answer: new(big.Int).Set(answer), UpdatedAt: updatedAt},
	}
}

// SetPrice stores price, a human readable amount of quote per base, scaled
// to decimals. Digits beyond decimals are truncated.
func (m *Memory) SetPrice(base, quote common.Address, decimals uint8, price decimal.Decimal, updatedAt time.Time) error {
	answer := price.Shift(int32(decimals)).Truncate(0).BigInt()
	if answer.Sign() <= 0 {
		return fmt.Errorf("feedregistry: price %s of %s/%s is not positive at %d decimals", price, base, quote, decimals)
	}
	m.SetFeed(base, quote, decimals, answer, updatedAt)
	return nil
}

// RemoveFeed forgets the base/quote feed.
func (m *Memory) RemoveFeed(base, quote common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.feeds, feedKey{base, quote})
}

// --- Read Methods ---

func (m *Memory) Decimals(_ context.Context, base, quote common.Address) (uint8, error) {
	f, err := m.get(base, quote)
	return f.decimals, err
}

func (m *Memory) LatestRoundData(_ context.Context, base, quote common.Address) (pushfeed.Round, error) {
	f, err := m.get(base, quote)
	if err != nil {
		return pushfeed.Round{}, err
	}
	return pushfeed.Round{Answer: new(big.Int).Set(f.round.Answer), UpdatedAt: f.round.UpdatedAt}, nil
}

func (m *Memory) get(base, quote common.Address) (feed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[feedKey{base, quote}]
	if !ok {
		return feed{}, fmt.Errorf("%w: %s/%s", pushfeed.ErrFeedNotFound, base, quote)
	}
	return f, nil
}
