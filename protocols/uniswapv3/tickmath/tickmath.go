// Package tickmath converts between Uniswap V3 ticks, sqrt prices and quotes.
package tickmath

import (
	"bytes"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	// MinTick is the minimum tick that may be passed to GetSqrtRatioAtTick.
	MinTick = int64(-887272)
	// MaxTick is the maximum tick that may be passed to GetSqrtRatioAtTick.
	MaxTick = int64(887272)
)

var (
	// MinSqrtRatio is the minimum value that can be returned from GetSqrtRatioAtTick.
	MinSqrtRatio, _ = new(big.Int).SetString("4295128739", 10)
	// MaxSqrtRatio is the maximum value that can be returned from GetSqrtRatioAtTick.
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	one        = uint256.NewInt(1)
	maxUint256 = uint256.MustFromBig(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	q64        = new(big.Int).Lsh(big.NewInt(1), 64)
	q128       = new(big.Int).Lsh(big.NewInt(1), 128)
	q192       = new(big.Int).Lsh(big.NewInt(1), 192)

	// sqrt(1.0001^2^i) for i in 0..19 in UQ128.128, followed by a rounding mask.
	ratioConstants = [22]*uint256.Int{
		uint256.MustFromBig(fromHex("0xfffcb933bd6fad37aa2d162d1a594001")),
		uint256.MustFromBig(fromHex("0x100000000000000000000000000000000")),
		uint256.MustFromBig(fromHex("0xfff97272373d413259a46990580e213a")),
		uint256.MustFromBig(fromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")),
		uint256.MustFromBig(fromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")),
		uint256.MustFromBig(fromHex("0xffcb9843d60f6159c9db58835c926644")),
		uint256.MustFromBig(fromHex("0xff973b41fa98c081472e6896dfb254c0")),
		uint256.MustFromBig(fromHex("0xff2ea16466c96a3843ec78b326b52861")),
		uint256.MustFromBig(fromHex("0xfe5dee046a99a2a811c461f1969c3053")),
		uint256.MustFromBig(fromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")),
		uint256.MustFromBig(fromHex("0xf987a7253ac413176f2b074cf7815e54")),
		uint256.MustFromBig(fromHex("0xf3392b0822b70005940c7a398e4b70f3")),
		uint256.MustFromBig(fromHex("0xe7159475a2c29b7443b29c7fa6e889d9")),
		uint256.MustFromBig(fromHex("0xd097f3bdfd2022b8845ad8f792aa5825")),
		uint256.MustFromBig(fromHex("0xa9f746462d870fdf8a65dc1f90e061e5")),
		uint256.MustFromBig(fromHex("0x70d869a156d2a1b890bb3df62baf32f7")),
		uint256.MustFromBig(fromHex("0x31be135f97d08fd981231505542fcfa6")),
		uint256.MustFromBig(fromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")),
		uint256.MustFromBig(fromHex("0x5d6af8dedb81196699c329225ee604")),
		uint256.MustFromBig(fromHex("0x2216e584f5fa1ea926041bedfe98")),
		uint256.MustFromBig(fromHex("0x48a170391f7dc42444e8fa2")),
		uint256.MustFromBig(fromHex("0xffffffff")),
	}
)

// scratch holds reusable integers to avoid allocations.
type scratch struct {
	ratio *uint256.Int
	rem   *uint256.Int
	temp  *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &scratch{
			ratio: new(uint256.Int),
			rem:   new(uint256.Int),
			temp:  new(big.Int),
		}
	},
}

// GetSqrtRatioAtTick calculates sqrt(1.0001^tick) * 2^96 into dest.
func GetSqrtRatioAtTick(dest *big.Int, tick int64) error {
	if tick < MinTick || tick > MaxTick {
		return ErrTickOutOfBounds
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)

	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	if (absTick & 0x1) != 0 {
		s.ratio.Set(ratioConstants[0])
	} else {
		s.ratio.Set(ratioConstants[1])
	}
	for i := 2; i < 21; i++ {
		if (absTick & (1 << (i - 1))) != 0 {
			s.ratio.Mul(s.ratio, ratioConstants[i]).Rsh(s.ratio, 128)
		}
	}

	if tick > 0 {
		s.ratio.Div(maxUint256, s.ratio)
	}

	// Q128.128 to Q64.96, rounding up.
	s.rem.And(s.ratio, ratioConstants[21])
	s.ratio.Rsh(s.ratio, 32)
	if s.rem.Sign() > 0 {
		s.ratio.Add(s.ratio, one)
	}

	s.ratio.IntoBig(&dest)
	return nil
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int64, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	s := pool.Get().(*scratch)
	defer pool.Put(s)
	sqrtRatio := s.temp

	low, high := MinTick, MaxTick
	var tick int64
	for low <= high {
		mid := (low + high) / 2
		if err := GetSqrtRatioAtTick(sqrtRatio, mid); err != nil {
			return 0, err
		}
		if sqrtRatio.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return tick, nil
}

// QuoteAtTick returns the amount of quoteToken that baseAmount of baseToken
// is worth at tick. Token order follows the pool convention: the lower
// address is token0 and the tick prices token0 in token1.
func QuoteAtTick(tick int64, baseAmount *big.Int, baseToken, quoteToken common.Address) (*big.Int, error) {
	sqrtRatioX96 := new(big.Int)
	if err := GetSqrtRatioAtTick(sqrtRatioX96, tick); err != nil {
		return nil, err
	}
	baseIsToken0 := bytes.Compare(baseToken.Bytes(), quoteToken.Bytes()) < 0

	// The two precisions match the on-chain library so results agree to the wei.
	if sqrtRatioX96.Cmp(maxUint128) <= 0 {
		ratioX192 := new(big.Int).Mul(sqrtRatioX96, sqrtRatioX96)
		if baseIsToken0 {
			return mulDiv(ratioX192, baseAmount, q192), nil
		}
		return mulDiv(q192, baseAmount, ratioX192), nil
	}

	ratioX128 := mulDiv(sqrtRatioX96, sqrtRatioX96, q64)
	if baseIsToken0 {
		return mulDiv(ratioX128, baseAmount, q128), nil
	}
	return mulDiv(q128, baseAmount, ratioX128), nil
}

// MeanTick divides a tick cumulative delta by the elapsed seconds, rounding
// toward negative infinity.
func MeanTick(tickCumulativeDelta *big.Int, seconds uint64) int64 {
	// Euclidean division by a positive divisor is floor division.
	q := new(big.Int).Div(tickCumulativeDelta, new(big.Int).SetUint64(seconds))
	return q.Int64()
}

func mulDiv(a, b, denominator *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denominator)
}

func fromHex(s string) *big.Int {
	n, _ := new(big.Int).SetString(s[2:], 16)
	return n
}
