package perp

import (
	"math/big"
	"testing"
)

var q96Big = new(big.Int).Lsh(big.NewInt(1), 96)

func TestSqrtPriceX96Exact(t *testing.T) {
	got, err := SqrtPriceX96FromPrice(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmp(q96Big) != 0 {
		t.Errorf("price 1 should map to 2^96, got %s", got)
	}

	// sqrt(1/4) = 1/2, exactly representable.
	got, err = SqrtPriceX96FromPrice(1, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := new(big.Int).Rsh(q96Big, 1)
	if got.Cmp(want) != 0 {
		t.Errorf("price 1/4 should map to 2^95, got %s", got)
	}
}

func TestSqrtPriceX96IsFloorOfRoot(t *testing.T) {
	// For irrational roots the result r must satisfy
	// r^2 <= num<<192/den < (r+1)^2.
	for _, tc := range []struct{ num, den uint64 }{
		{50, 1}, {2, 1}, {7, 3}, {1_000_000, 7},
	} {
		got, err := SqrtPriceX96FromPrice(tc.num, tc.den)
		if err != nil {
			t.Fatal(err)
		}
		scaled := new(big.Int).Lsh(new(big.Int).SetUint64(tc.num), 192)
		scaled.Div(scaled, new(big.Int).SetUint64(tc.den))

		low := new(big.Int).Mul(got, got)
		next := new(big.Int).Add(got, big.NewInt(1))
		high := new(big.Int).Mul(next, next)
		if low.Cmp(scaled) > 0 || high.Cmp(scaled) <= 0 {
			t.Errorf("price %d/%d: %s is not the integer sqrt", tc.num, tc.den, got)
		}
	}
}

func TestSqrtPriceX96Errors(t *testing.T) {
	if _, err := SqrtPriceX96FromPrice(1, 0); err == nil {
		t.Error("zero denominator should fail")
	}
	if _, err := SqrtPriceX96FromPrice(0, 1); err == nil {
		t.Error("zero numerator should fail")
	}
}

func TestLeverageX96Conversions(t *testing.T) {
	// 10x leverage constant from the deployed manager config.
	tenXish, _ := new(big.Int).SetString("790273926286361721684336819027", 10)
	lev := LeverageFromX96(tenXish)
	if lev < 9.9 || lev > 10.0 {
		t.Errorf("expected roughly 10x, got %f", lev)
	}

	round := LeverageFromX96(LeverageToX96(2.5))
	if round < 2.49 || round > 2.51 {
		t.Errorf("round trip drifted: %f", round)
	}

	if LeverageFromX96(nil) != 0 {
		t.Error("nil should read as zero leverage")
	}
}

func TestLiquidityForMargin(t *testing.T) {
	liq, err := LiquidityForMargin(big.NewInt(1_000_000), 500_000)
	if err != nil {
		t.Fatal(err)
	}
	if liq.Cmp(big.NewInt(500_000_000_000)) != 0 {
		t.Errorf("1 USDC at 500k scaling = 5e11, got %s", liq)
	}
}

func TestLiquidityForMarginOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	if _, err := LiquidityForMargin(huge, 500_000); err == nil {
		t.Error("uint128 overflow should be rejected")
	}
}
