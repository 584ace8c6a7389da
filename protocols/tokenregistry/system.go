package tokenregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTokenNotFound is returned for addresses the system does not know.
var ErrTokenNotFound = errors.New("tokenregistry: token not found")

// MaxDecimals bounds token precision so amount scaling stays in range.
const MaxDecimals = 77

// TokenSystem provides fast, concurrency-safe access to token metadata by address.
type TokenSystem struct {
	mu        sync.RWMutex
	byAddress map[common.Address]Token
}

// NewTokenSystem creates a system holding the given tokens.
func NewTokenSystem(tokens ...Token) (*TokenSystem, error) {
	s := &TokenSystem{byAddress: make(map[common.Address]Token, len(tokens))}
	if err := s.AddTokens(tokens...); err != nil {
		return nil, err
	}
	return s, nil
}

// AddTokens adds or replaces tokens. Either every token is stored or none is.
func (s *TokenSystem) AddTokens(tokens ...Token) error {
	for _, t := range tokens {
		if t.Address == (common.Address{}) {
			return fmt.Errorf("tokenregistry: token %q has a zero address", t.Symbol)
		}
		if t.Decimals > MaxDecimals {
			return fmt.Errorf("tokenregistry: token %s has %d decimals", t.Address, t.Decimals)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.byAddress[t.Address] = t
	}
	return nil
}

// GetByAddress retrieves a token by its contract address.
func (s *TokenSystem) GetByAddress(address common.Address) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byAddress[address]
	return t, ok
}

// Decimals returns the precision of token.
func (s *TokenSystem) Decimals(_ context.Context, token common.Address) (uint8, error) {
	t, ok := s.GetByAddress(token)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTokenNotFound, token)
	}
	return t.Decimals, nil
}

// All returns every token ordered by address.
func (s *TokenSystem) All() []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Token, 0, len(s.byAddress))
	for _, t := range s.byAddress {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Address.Hex(), out[j].Address.Hex()) < 0
	})
	return out
}
