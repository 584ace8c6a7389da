package uniswapv3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolViewMinimal provides a view of a single Uniswap V3 pool's data.
type PoolViewMinimal struct {
	Address     common.Address `json:"address"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint64         `json:"fee"`
	TickSpacing uint64         `json:"tickSpacing"`
	Tick        int64          `json:"tick"`
	// Liquidity is the in-range liquidity.
	Liquidity *big.Int `json:"liquidity"`
	// ObservationCardinality is the number of populated observation slots.
	ObservationCardinality uint16 `json:"observationCardinality"`
	// ObservationCardinalityNext is the size the buffer grows to on the next write.
	ObservationCardinalityNext uint16 `json:"observationCardinalityNext"`
}

// Observation is one slot of a pool's oracle buffer.
type Observation struct {
	Timestamp      uint64   `json:"timestamp"`
	TickCumulative *big.Int `json:"tickCumulative"`
}

// Pool is a pool together with its observation history, oldest first.
type Pool struct {
	PoolViewMinimal `json:",inline"`
	Observations    []Observation `json:"observations"`
}
