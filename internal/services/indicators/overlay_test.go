package indicators

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/accrue/internal/domain"
)

func ints(vs ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestParseOverlay(t *testing.T) {
	tests := []struct {
		in      string
		want    Overlay
		wantErr bool
	}{
		{in: "ema:20", want: Overlay{Kind: KindEMA, Period: 20}},
		{in: " SMA:5 ", want: Overlay{Kind: KindSMA, Period: 5}},
		{in: "rsi:14", want: Overlay{Kind: KindRSI, Period: 14}},
		{in: "macd", want: Overlay{Kind: KindMACD}},
		{in: "ema", wantErr: true},
		{in: "ema:1", wantErr: true},
		{in: "ema:x", wantErr: true},
		{in: "bollinger:20", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOverlay(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverlay_SMA(t *testing.T) {
	res, err := Overlay{Kind: KindSMA, Period: 3}.Compute(ints(1, 2, 3, 4, 5))
	require.NoError(t, err)

	require.NotEmpty(t, res.Values)
	assert.Equal(t, 5, res.Offset+len(res.Values))
	assert.True(t, res.Values[len(res.Values)-1].Equal(decimal.NewFromInt(4)))
}

func TestOverlay_EMAStaysWithinRange(t *testing.T) {
	values := ints(10, 12, 11, 13, 15, 14, 16, 18, 17, 19)
	res, err := Overlay{Kind: KindEMA, Period: 4}.Compute(values)
	require.NoError(t, err)

	assert.Equal(t, len(values), res.Offset+len(res.Values))
	for _, v := range res.Values {
		assert.True(t, v.GreaterThanOrEqual(decimal.NewFromInt(10)))
		assert.True(t, v.LessThanOrEqual(decimal.NewFromInt(19)))
	}
}

func TestOverlay_RSIBounds(t *testing.T) {
	values := ints(44, 45, 44, 46, 47, 46, 48, 49, 47, 50, 51, 49, 52, 53, 52, 54, 55)
	res, err := Overlay{Kind: KindRSI, Period: 5}.Compute(values)
	require.NoError(t, err)

	for _, v := range res.Values {
		assert.True(t, v.GreaterThanOrEqual(decimal.Zero))
		assert.True(t, v.LessThanOrEqual(decimal.NewFromInt(100)))
	}
}

func TestOverlay_NotEnoughData(t *testing.T) {
	_, err := Overlay{Kind: KindEMA, Period: 20}.Compute(ints(1, 2, 3))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = Overlay{Kind: KindMACD}.Compute(ints(1, 2, 3))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestOverlay_FlatSeriesDoesNotPanic(t *testing.T) {
	series := domain.DegenerateSeries("AAPL", domain.Period1D, decimal.NewFromInt(5), time.Now())

	assert.NotPanics(t, func() {
		_, err := Overlay{Kind: KindRSI, Period: 3}.ForSeries(series, 10)
		require.NoError(t, err)
	})
}
