package helpers

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

var ten = big.NewInt(10)

// Pow10 returns 10^n as a fresh big.Int. Price normalization multiplies
// before dividing, so exponents up to ~95 show up here; int64 math would
// silently truncate them.
func Pow10(n uint) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// Gwei conversions
func GweiToWei(gweiStr string) (*big.Int, error) {
	if gweiStr == "" {
		return nil, fmt.Errorf("empty gwei amount")
	}

	gwei, ok := new(big.Int).SetString(gweiStr, 10)
	if !ok {
		gweiFloat, err := strconv.ParseFloat(gweiStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gwei amount: %s", gweiStr)
		}
		wei := new(big.Float).SetFloat64(gweiFloat * 1e9)
		result := new(big.Int)
		wei.Int(result)
		return result, nil
	}

	return new(big.Int).Mul(gwei, big.NewInt(1000000000)), nil
}

func WeiToGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	gwei := new(big.Int).Div(wei, big.NewInt(1000000000))
	return gwei.String()
}

// Token amount formatting with decimals, for guardian alerts
func FormatTokenAmount(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}

	divisor := new(big.Float).SetInt(Pow10(uint(decimals)))
	result := new(big.Float).SetInt(amount)
	result.Quo(result, divisor)

	f, _ := result.Float64()
	if decimals <= 2 {
		return fmt.Sprintf("%.0f", f)
	} else if decimals <= 8 {
		return fmt.Sprintf("%.4f", f)
	}
	return fmt.Sprintf("%.6f", f)
}

// Format address for display
func FormatAddress(addr common.Address) string {
	hex := addr.Hex()
	if len(hex) > 10 {
		return hex[:6] + "..." + hex[len(hex)-4:]
	}
	return hex
}

// Format transaction hash for display
func FormatTxHash(hash common.Hash) string {
	hex := hash.Hex()
	if len(hex) > 12 {
		return hex[:10] + "..." + hex[len(hex)-6:]
	}
	return hex
}
