package engine

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pair is an unordered combination of two assets, stored in canonical order
// so that (A, B) and (B, A) address the same state.
type Pair struct {
	TokenA common.Address `json:"tokenA"`
	TokenB common.Address `json:"tokenB"`
}

// NewPair returns the canonical pair for the two tokens.
func NewPair(tokenA, tokenB common.Address) Pair {
	a, b := SortTokens(tokenA, tokenB)
	return Pair{TokenA: a, TokenB: b}
}

// SortTokens orders two addresses by their byte representation.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address) {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) <= 0 {
		return tokenA, tokenB
	}
	return tokenB, tokenA
}

// Key is the 40 byte storage key of the pair.
func (p Pair) Key() []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, p.TokenA.Bytes()...)
	return append(key, p.TokenB.Bytes()...)
}

// Contains reports whether token is one side of the pair.
func (p Pair) Contains(token common.Address) bool {
	return p.TokenA == token || p.TokenB == token
}

func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", p.TokenA.Hex(), p.TokenB.Hex())
}

// PairFromKey decodes a key produced by Pair.Key.
func PairFromKey(key []byte) (Pair, error) {
	if len(key) != 2*common.AddressLength {
		return Pair{}, fmt.Errorf("%w: pair key has length %d", ErrInvalidInput, len(key))
	}
	return Pair{
		TokenA: common.BytesToAddress(key[:common.AddressLength]),
		TokenB: common.BytesToAddress(key[common.AddressLength:]),
	}, nil
}

// PriceOracle is the capability every backend and the aggregator implement.
//
// Methods that mutate state must be called with a caller identity in the
// context when they are privileged (see package access). All methods are
// safe to call re-entrantly from within another oracle's unit of work.
type PriceOracle interface {
	// Name identifies the oracle in assignments, metrics and logs.
	Name() string
	// CanSupportPair reports whether the oracle could be configured to quote the pair.
	CanSupportPair(ctx context.Context, tokenA, tokenB common.Address) (bool, error)
	// IsPairAlreadySupported reports whether the pair is configured and still quotable.
	IsPairAlreadySupported(ctx context.Context, tokenA, tokenB common.Address) (bool, error)
	// AddOrModifySupportForPair (re)configures support for the pair, failing
	// with ErrUnsupported when nothing can serve it.
	AddOrModifySupportForPair(ctx context.Context, tokenA, tokenB common.Address, data []byte) error
	// AddSupportForPairIfNeeded configures the pair unless it is already supported.
	AddSupportForPairIfNeeded(ctx context.Context, tokenA, tokenB common.Address, data []byte) error
	// Quote returns how much tokenOut is worth amountIn of tokenIn.
	Quote(ctx context.Context, tokenIn common.Address, amountIn *big.Int, tokenOut common.Address, data []byte) (*big.Int, error)
}
