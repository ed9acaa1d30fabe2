package utils

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

func TruncateString(str string, num int) string {
	if len(str) <= num {
		return str
	}
	if num <= 3 {
		return str[:num]
	}
	return str[0:num-3] + "..."
}

// FormatAddress shortens an address to 0x1234...abcd.
func FormatAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func AddCommas(s string) string {
	if len(s) == 0 {
		return s
	}
	parts := strings.Split(s, ".")
	integerPart := parts[0]
	sign := ""
	if strings.HasPrefix(integerPart, "-") {
		sign = "-"
		integerPart = integerPart[1:]
	}

	n := len(integerPart)
	if n <= 3 {
		return s
	}

	var result strings.Builder
	result.WriteString(sign)
	remainder := n % 3
	if remainder > 0 {
		result.WriteString(integerPart[:remainder])
		result.WriteString(",")
	}
	for i := remainder; i < n; i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(integerPart[i : i+3])
	}

	if len(parts) > 1 {
		result.WriteString(".")
		result.WriteString(parts[1])
	}
	return result.String()
}

// WeiToEther converts wei to an ether amount.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

// WeiHexToEther parses a 0x-prefixed wei quantity, as returned by
// eth_getBalance, into ether.
func WeiHexToEther(hex string) (decimal.Decimal, error) {
	v, err := hexutil.DecodeBig(hex)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid wei quantity %q: %w", hex, err)
	}
	return WeiToEther(v), nil
}

// FormatEther renders an ether amount rounded to decimals with thousands
// separators.
func FormatEther(d decimal.Decimal, decimals int32) string {
	return AddCommas(d.StringFixed(decimals))
}

// FormatBalance renders a raw hex balance, or "-" when absent or malformed.
func FormatBalance(hex *string, decimals int32) string {
	if hex == nil {
		return "-"
	}
	d, err := WeiHexToEther(*hex)
	if err != nil {
		return "-"
	}
	return FormatEther(d, decimals)
}

// FormatTimestamp renders unix milliseconds in local time, or "pending".
func FormatTimestamp(ms *int64) string {
	if ms == nil {
		return "pending"
	}
	return time.UnixMilli(*ms).Local().Format("2006-01-02 15:04")
}

// ParseEther parses a decimal ether string, returning zero on failure.
func ParseEther(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
