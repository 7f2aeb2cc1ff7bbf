package perp

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// q96 is the Q64.96 fixed point scale used by the pool contracts.
var q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

// maxUint128 bounds values destined for uint128 contract fields.
var maxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// SqrtPriceX96FromPrice converts a price ratio num/den into the
// sqrt-price Q64.96 representation the pool expects, computed as
// sqrt(num << 192 / den) so no precision is lost before the root.
func SqrtPriceX96FromPrice(num, den uint64) (*big.Int, error) {
	if den == 0 {
		return nil, fmt.Errorf("price denominator is zero")
	}
	if num == 0 {
		return nil, fmt.Errorf("price numerator is zero")
	}
	ratio := new(uint256.Int).Lsh(uint256.NewInt(num), 192)
	ratio.Div(ratio, uint256.NewInt(den))
	root := new(uint256.Int).Sqrt(ratio)
	return root.ToBig(), nil
}

// LeverageFromX96 renders a Q64.96 leverage value as a plain float,
// for error messages and logs only.
func LeverageFromX96(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x)
	f.Quo(f, new(big.Float).SetInt(q96.ToBig()))
	out, _ := f.Float64()
	return out
}

// LeverageToX96 converts a plain leverage multiple into Q64.96.
func LeverageToX96(leverage float64) *big.Int {
	f := big.NewFloat(leverage)
	f.Mul(f, new(big.Float).SetInt(q96.ToBig()))
	out, _ := f.Int(nil)
	return out
}

// LiquidityForMargin scales a USDC margin (6 decimals) into the pool
// liquidity amount. The result must fit the contract's uint128
// liquidity field.
func LiquidityForMargin(marginUSDC *big.Int, scalingFactor uint64) (*big.Int, error) {
	margin, overflow := uint256.FromBig(marginUSDC)
	if overflow {
		return nil, fmt.Errorf("margin %s does not fit uint256", marginUSDC)
	}
	liquidity, overflow := new(uint256.Int).MulOverflow(margin, uint256.NewInt(scalingFactor))
	if overflow || liquidity.Gt(maxUint128) {
		return nil, fmt.Errorf("liquidity for margin %s overflows uint128 (scaling factor %d)", marginUSDC, scalingFactor)
	}
	return liquidity.ToBig(), nil
}
