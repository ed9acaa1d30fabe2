package utils

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		length   int
		expected string
	}{
		{"hello world", 5, "he..."},
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"", 5, ""},
		{"abc", 2, "ab"},
		{"abc", 3, "abc"},
	}

	for _, tt := range tests {
		result := TruncateString(tt.input, tt.length)
		if result != tt.expected {
			t.Errorf("TruncateString(%q, %d) = %q; want %q", tt.input, tt.length, result, tt.expected)
		}
	}
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "0xAbc0...0001", FormatAddress("0xAbc0000000000000000000000000000000000001"))
	assert.Equal(t, "0x1234", FormatAddress("0x1234"))
	assert.Equal(t, "", FormatAddress(""))
}

func TestAddCommas(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"123", "123"},
		{"1234", "1,234"},
		{"123456", "123,456"},
		{"1234567", "1,234,567"},
		{"1234.56", "1,234.56"},
		{"-1234", "-1,234"},
		{"", ""},
	}

	for _, tt := range tests {
		result := AddCommas(tt.input)
		if result != tt.expected {
			t.Errorf("AddCommas(%q) = %q; want %q", tt.input, result, tt.expected)
		}
	}
}

func TestWeiHexToEther(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"0x1b1ae4d6e2ef500000", "500"},
		{"0xde0b6b3a7640000", "1"},
		{"0x0", "0"},
		{"0x1", "0.000000000000000001"},
	}

	for _, tt := range tests {
		d, err := WeiHexToEther(tt.input)
		require.NoError(t, err, tt.input)
		assert.True(t, d.Equal(decimal.RequireFromString(tt.expected)), "%s -> %s", tt.input, d)
	}

	_, err := WeiHexToEther("1234")
	assert.Error(t, err)
	_, err = WeiHexToEther("0x")
	assert.Error(t, err)
}

func TestFormatEtherAndBalance(t *testing.T) {
	wei, _ := new(big.Int).SetString("1234567890000000000000", 10)
	assert.Equal(t, "1,234.5679", FormatEther(WeiToEther(wei), 4))
	assert.Equal(t, "0.0000", FormatEther(WeiToEther(nil), 4))

	bal := "0x1b1ae4d6e2ef500000"
	assert.Equal(t, "500.00", FormatBalance(&bal, 2))
	bad := "nope"
	assert.Equal(t, "-", FormatBalance(&bad, 2))
	assert.Equal(t, "-", FormatBalance(nil, 2))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "pending", FormatTimestamp(nil))

	ts := time.Date(2023, 5, 1, 12, 30, 0, 0, time.Local).UnixMilli()
	assert.Equal(t, "2023-05-01 12:30", FormatTimestamp(&ts))
}

func TestParseEther(t *testing.T) {
	assert.InDelta(t, 1.5, ParseEther("1.5"), 1e-9)
	assert.Equal(t, 0.0, ParseEther("abc"))
}
