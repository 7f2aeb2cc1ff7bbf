package perp

import (
	"fmt"
	"math/big"
	"strings"
)

// Known PerpManager custom error selectors.
const (
	selOpeningLeverageOutOfBounds = "239b350f"
	selOpeningMarginOutOfBounds   = "cd4916f9"
	selInvalidLiquidity           = "7e05cd27"
	selLivePositionDetails        = "d2aa461f"
	selInvalidClose               = "2c328f64"
	selSafeCastOverflow           = "24775e06"
)

const hexWord = 64 // one abi word as hex characters

// DecodeContractError turns a PerpManager revert blob (hex string,
// with or without the 0x prefix) into a readable message. Returns ""
// when the blob is too short to carry a selector.
func DecodeContractError(errorData string) string {
	data := strings.TrimPrefix(strings.ToLower(errorData), "0x")
	if len(data) < 8 {
		return ""
	}
	selector, params := data[:8], data[8:]

	switch selector {
	case selOpeningLeverageOutOfBounds:
		got, min, max, ok := threeWords(params)
		if !ok {
			return ""
		}
		return fmt.Sprintf("OpeningLeverageOutOfBounds: attempted %.2fx leverage, allowed range %.2fx to %.2fx",
			LeverageFromX96(got), LeverageFromX96(min), LeverageFromX96(max))
	case selOpeningMarginOutOfBounds:
		got, min, max, ok := threeWords(params)
		if !ok {
			return ""
		}
		return fmt.Sprintf("OpeningMarginOutOfBounds: attempted %.2f USDC margin, allowed range %.2f to %.2f USDC",
			usdc(got), usdc(min), usdc(max))
	case selInvalidLiquidity:
		v, ok := oneWord(params)
		if !ok {
			return ""
		}
		return fmt.Sprintf("InvalidLiquidity: liquidity amount %s is invalid (must be > 0)", v)
	case selLivePositionDetails:
		return "LivePositionDetails: position details provided for liquidation analysis"
	case selInvalidClose:
		return "InvalidClose: invalid attempt to close position"
	case selSafeCastOverflow:
		v, ok := oneWord(params)
		if !ok {
			return ""
		}
		return fmt.Sprintf("SafeCastOverflowedUintToInt: value %s overflows when casting to int", v)
	}
	return fmt.Sprintf("unknown contract error: 0x%s", selector)
}

// TryDecodeRevertReason pulls a revert explanation out of an RPC
// error. It looks for an embedded hex blob first, then for a plain
// "execution reverted" reason string. Returns "" when neither is
// present.
func TryDecodeRevertReason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	if start := strings.Index(msg, "0x"); start >= 0 {
		blob := msg[start+2:]
		end := 0
		for end < len(blob) && isHexDigit(blob[end]) {
			end++
		}
		if end >= 8 {
			if decoded := DecodeContractError(blob[:end]); decoded != "" {
				return decoded
			}
		}
	}

	if _, after, found := strings.Cut(msg, "execution reverted"); found {
		reason := strings.Trim(after, " :\"")
		if reason != "" {
			return fmt.Sprintf("revert reason: %s", reason)
		}
		return "execution reverted (no reason provided)"
	}
	return ""
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func oneWord(params string) (*big.Int, bool) {
	if len(params) < hexWord {
		return nil, false
	}
	v, ok := new(big.Int).SetString(params[:hexWord], 16)
	return v, ok
}

func threeWords(params string) (a, b, c *big.Int, ok bool) {
	if len(params) < 3*hexWord {
		return nil, nil, nil, false
	}
	a, ok = new(big.Int).SetString(params[:hexWord], 16)
	if !ok {
		return nil, nil, nil, false
	}
	b, ok = new(big.Int).SetString(params[hexWord:2*hexWord], 16)
	if !ok {
		return nil, nil, nil, false
	}
	c, ok = new(big.Int).SetString(params[2*hexWord:3*hexWord], 16)
	if !ok {
		return nil, nil, nil, false
	}
	return a, b, c, true
}

func usdc(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	f.Quo(f, big.NewFloat(1_000_000))
	out, _ := f.Float64()
	return out
}
