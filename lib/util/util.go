// Package util contains helper functions used around the code.
package util

import (
	"math"
	"math/big"
)

// weiPerEther is 10^18.
var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)) //nolint:gochecknoglobals

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}

	return false
}

// ToEther converts an amount in wei to ether. A nil amount is 0.
func ToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}

	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther).Float64()

	return f
}

// RoundPct rounds a percentage to the nearest integer, halves away from zero. Negative and NaN values give 0.
func RoundPct(pct float64) uint64 {
	switch {
	case math.IsNaN(pct) || pct <= 0:
		return 0
	case math.IsInf(pct, 1) || pct >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(math.Round(pct))
	}
}
