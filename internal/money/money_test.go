package money

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int64
		err  error
	}{
		{name: "integer", raw: `150`, want: 15000},
		{name: "decimal", raw: `12.34`, want: 1234},
		{name: "numeric string", raw: `" 99.9 "`, want: 9990},
		{name: "rounds half away from zero", raw: `0.005`, want: 1},
		{name: "zero", raw: `0`, err: ErrNotPositive},
		{name: "negative", raw: `-5`, err: ErrNotPositive},
		{name: "rounds to zero", raw: `0.004`, err: ErrNotPositive},
		{name: "word", raw: `"ten"`, err: ErrInvalidMoney},
		{name: "null", raw: `null`, err: ErrInvalidMoney},
		{name: "bool", raw: `true`, err: ErrInvalidMoney},
		{name: "huge", raw: `1e20`, err: ErrInvalidMoney},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON(json.RawMessage(tt.raw))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseString_RejectsExtremeExponents(t *testing.T) {
	for _, in := range []string{
		"1e20000000",
		"1E2147483647",
		"1e-20000000",
		"0.000000000000000000001",
		"123456789012345678901234567890123",
	} {
		start := time.Now()
		_, err := ParseString(in)
		assert.ErrorIs(t, err, ErrInvalidMoney, in)
		assert.Less(t, time.Since(start), 50*time.Millisecond, in)
	}

	_, err := ParseJSON(json.RawMessage(`1e20000000`))
	assert.ErrorIs(t, err, ErrInvalidMoney)

	got, err := ParseString("2.5e2")
	require.NoError(t, err)
	assert.Equal(t, int64(25000), got)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "12.05", String(1205))
	assert.Equal(t, "-0.50", String(-50))
	assert.Equal(t, 12.5, Float(1250))
	assert.Equal(t, int64(10), WholeUnits(1099))
}
