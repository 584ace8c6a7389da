package feedregistry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/defistate/defistate-oracle-go/oracles/pushfeed"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Only the view functions the backend reads.
const registryABIJSON = `[
	{
		"inputs": [
			{"internalType": "address", "name": "base", "type": "address"},
			{"internalType": "address", "name": "quote", "type": "address"}
		],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "base", "type": "address"},
			{"internalType": "address", "name": "quote", "type": "address"}
		],
		"name": "latestRoundData",
		"outputs": [
			{"internalType": "uint80", "name": "roundId", "type": "uint80"},
			{"internalType": "int256", "name": "answer", "type": "int256"},
			{"internalType": "uint256", "name": "startedAt", "type": "uint256"},
			{"internalType": "uint256", "name": "updatedAt", "type": "uint256"},
			{"internalType": "uint80", "name": "answeredInRound", "type": "uint80"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// feedNotFoundReason is the revert reason of a registry without the feed.
const feedNotFoundReason = "Feed not found"

// RPC reads a FeedRegistry contract through a ContractCaller such as *ethclient.Client.
type RPC struct {
	caller  ethereum.ContractCaller
	address common.Address
	abi     abi.ABI
}

// NewRPC binds the registry deployed at address.
func NewRPC(caller ethereum.ContractCaller, address common.Address) (*RPC, error) {
	if caller == nil {
		return nil, errors.New("config: caller cannot be nil")
	}
	if address == (common.Address{}) {
		return nil, errors.New("config: registry address is required")
	}
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed registry ABI: %w", err)
	}
	return &RPC{caller: caller, address: address, abi: parsed}, nil
}

func (r *RPC) Decimals(ctx context.Context, base, quote common.Address) (uint8, error) {
	result, err := r.call(ctx, "decimals", base, quote)
	if err != nil {
		return 0, err
	}
	out, err := r.abi.Unpack("decimals", result)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack decimals result: %w", err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", out[0])
	}
	return decimals, nil
}

func (r *RPC) LatestRoundData(ctx context.Context, base, quote common.Address) (pushfeed.Round, error) {
	result, err := r.call(ctx, "latestRoundData", base, quote)
	if err != nil {
		return pushfeed.Round{}, err
	}
	var round struct {
		RoundId         *big.Int
		Answer          *big.Int
		StartedAt       *big.Int
		UpdatedAt       *big.Int
		AnsweredInRound *big.Int
	}
	if err := r.abi.UnpackIntoInterface(&round, "latestRoundData", result); err != nil {
		return pushfeed.Round{}, fmt.Errorf("failed to unpack latestRoundData result: %w", err)
	}
	if !round.UpdatedAt.IsInt64() {
		return pushfeed.Round{}, fmt.Errorf("feed %s/%s: updatedAt %s out of range", base, quote, round.UpdatedAt)
	}
	return pushfeed.Round{Answer: round.Answer, UpdatedAt: time.Unix(round.UpdatedAt.Int64(), 0)}, nil
}

func (r *RPC) call(ctx context.Context, method string, base, quote common.Address) ([]byte, error) {
	data, err := r.abi.Pack(method, base, quote)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		if strings.Contains(err.Error(), feedNotFoundReason) {
			return nil, fmt.Errorf("%w: %s/%s", pushfeed.ErrFeedNotFound, base, quote)
		}
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return result, nil
}
