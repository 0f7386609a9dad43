package amount

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFloatBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		raw     float64
		opts    Options
		want    int64
		wantErr bool
	}{
		{name: "zero not allowed", raw: 0, opts: Options{AllowZero: false}, wantErr: true},
		{name: "zero allowed", raw: 0, opts: Options{AllowZero: true}, want: 0},
		{name: "negative with zero allowed", raw: -5, opts: Options{AllowZero: true}, wantErr: true},
		{name: "above ceiling", raw: 1_000_000_000_000, opts: Options{MaxAmount: 999_999_999_999}, wantErr: true},
		{name: "at ceiling", raw: 999_999_999_999, opts: Options{}, want: 999_999_999_999},
		{name: "rounds up", raw: 99.6, opts: Options{}, want: 100},
		{name: "rounds half away from zero", raw: 10.5, opts: Options{}, want: 11},
		{name: "rounds down", raw: 10.4, opts: Options{}, want: 10},
		{name: "fraction rounding to zero", raw: 0.4, opts: Options{}, wantErr: true},
		{name: "negative fraction", raw: -0.2, opts: Options{AllowZero: true}, wantErr: true},
		{name: "custom minimum", raw: 49, opts: Options{MinAmount: 50}, wantErr: true},
		{name: "nan", raw: math.NaN(), opts: Options{}, wantErr: true},
		{name: "positive infinity", raw: math.Inf(1), opts: Options{}, wantErr: true},
		{name: "negative infinity", raw: math.Inf(-1), opts: Options{AllowZero: true}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeFloat(tc.raw, tc.opts)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeString(t *testing.T) {
	got, err := NormalizeString(" 1250.5 ", Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1251), got)

	for _, raw := range []string{"", "abc", "NaN", "-Infinity", "-1"} {
		_, err := NormalizeString(raw, Options{AllowZero: true})
		assert.ErrorIs(t, err, ErrInvalidAmount, raw)
	}
}

func TestNormalizeCarriesReason(t *testing.T) {
	_, err := Normalize(decimal.NewFromInt(-3), Options{})
	var amountErr *Error
	require.True(t, errors.As(err, &amountErr))
	assert.Contains(t, amountErr.Reason, "negative")
	assert.Contains(t, err.Error(), "invalid_amount")
}
