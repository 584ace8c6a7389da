package tokenpoolregistry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenPoolSystem provides a concurrency-safe layer over TokenPoolRegistry.
type TokenPoolSystem struct {
	mu       sync.RWMutex
	registry *TokenPoolRegistry
}

// NewTokenPoolSystem creates and initializes a new, concurrency-safe TokenPoolSystem.
// It takes a threshold that determines when the internal graph structure should be compacted.
func NewTokenPoolSystem(compactionThreshold int) *TokenPoolSystem {
	return &TokenPoolSystem{
		registry: NewTokenPoolRegistry(compactionThreshold),
	}
}

// --- Write Methods ---

// AddPool adds a single liquidity pool trading the given tokens.
func (s *TokenPoolSystem) AddPool(tokens []common.Address, pool common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.add(tokens, pool)
}

// AddPools adds multiple pools in a single operation.
// It will panic if the input slices have mismatched lengths, as this is a programmer error.
func (s *TokenPoolSystem) AddPools(pools []common.Address, tokenSets [][]common.Address) {
	if len(pools) != len(tokenSets) {
		panic(fmt.Sprintf("mismatched input lengths: %d pools and %d token sets", len(pools), len(tokenSets)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pool := range pools {
		s.registry.add(tokenSets[i], pool)
	}
}

// RemovePool removes a single pool.
func (s *TokenPoolSystem) RemovePool(pool common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.removePool(pool)
}

// RemovePools removes multiple pools in a single operation.
func (s *TokenPoolSystem) RemovePools(pools []common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pool := range pools {
		s.registry.removePool(pool)
	}
}

// RemoveToken drops every edge touching the token.
func (s *TokenPoolSystem) RemoveToken(token common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry.removeToken(token)
}

// --- Read Methods ---

func (s *TokenPoolSystem) PoolsForToken(token common.Address) []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.poolsForToken(token)
}

// PoolsForPair returns the pools trading the two tokens in insertion order.
// The result does not depend on argument order.
func (s *TokenPoolSystem) PoolsForPair(tokenA, tokenB common.Address) []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.poolsForPair(tokenA, tokenB)
}

// TokenCount returns the number of tokens currently indexed.
func (s *TokenPoolSystem) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.tokenCount()
}
