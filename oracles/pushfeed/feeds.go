package pushfeed

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Denominations that stand for assets without a token contract.
var (
	USD = common.HexToAddress("0x0000000000000000000000000000000000000348")
	ETH = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
)

// ErrFeedNotFound is returned by a FeedRegistry that has no feed for a base/quote pair.
var ErrFeedNotFound = errors.New("pushfeed: feed not found")

// Round is the latest answer of a feed.
type Round struct {
	Answer    *big.Int
	UpdatedAt time.Time
}

// FeedRegistry resolves base/quote feeds. Answers are the price of one unit
// of base in quote, scaled by 10^Decimals.
type FeedRegistry interface {
	Decimals(ctx context.Context, base, quote common.Address) (uint8, error)
	LatestRoundData(ctx context.Context, base, quote common.Address) (Round, error)
}

// TokenDecimals reports the precision of token amounts.
type TokenDecimals interface {
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}
