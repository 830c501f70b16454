package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCandle(i int) Candle {
	return Candle{
		OpenTime:  int64(i+1) * 60_000,
		CloseTime: int64(i+2)*60_000 - 1,
		Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 10, Trades: 3,
	}
}

func TestValidateSeriesAcceptsWellFormed(t *testing.T) {
	series := make([]Candle, 10)
	for i := range series {
		series[i] = validCandle(i)
	}
	require.NoError(t, ValidateSeries(series))
}

func TestValidateSeriesRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateSeries(nil))
}

func TestValidateSeriesRejectsDuplicateOpenTime(t *testing.T) {
	series := []Candle{validCandle(0), validCandle(1), validCandle(1)}
	err := ValidateSeries(series)
	require.Error(t, err)
}

func TestValidateSeriesRejectsOutOfOrder(t *testing.T) {
	series := []Candle{validCandle(1), validCandle(0)}
	assert.Error(t, ValidateSeries(series))
}

func TestValidateSeriesRejectsNonFinite(t *testing.T) {
	series := []Candle{validCandle(0), validCandle(1)}
	series[1].Close = math.NaN()
	assert.Error(t, ValidateSeries(series))

	series[1] = validCandle(1)
	series[1].High = math.Inf(1)
	assert.Error(t, ValidateSeries(series))
}

func TestCandleValidRejectsInvertedRange(t *testing.T) {
	c := validCandle(0)
	c.High, c.Low = c.Low, c.High
	assert.False(t, c.Valid())
}

func TestExtractors(t *testing.T) {
	series := []Candle{validCandle(0), validCandle(1)}
	series[1].Close = 102
	series[1].Volume = 20

	assert.Equal(t, []float64{100.5, 102}, Closes(series))
	assert.Equal(t, []float64{101, 101}, Highs(series))
	assert.Equal(t, []float64{99, 99}, Lows(series))
	assert.Equal(t, []float64{10, 20}, Volumes(series))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 15M ")
	require.NoError(t, err)
	assert.Equal(t, "15m", tf.Key)

	_, err = ParseTimeframe("13m")
	assert.Error(t, err)
}

func TestResampleFactor(t *testing.T) {
	f, err := ResampleFactor("15m", "4h")
	require.NoError(t, err)
	assert.Equal(t, 16, f)

	f, err = ResampleFactor("1m", "1m")
	require.NoError(t, err)
	assert.Equal(t, 1, f)

	_, err = ResampleFactor("4h", "15m")
	assert.Error(t, err)
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)

	start, end := tf.AlignRange(3_700_000, 7_300_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(7_200_000), end)

	// 颠倒的区间被纠正。
	start, end = tf.AlignRange(7_300_000, 3_700_000)
	assert.Equal(t, int64(3_600_000), start)
	assert.Equal(t, int64(7_200_000), end)
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tf.ExpectedCandles(0, 7_200_000))
	assert.Equal(t, int64(0), tf.ExpectedCandles(100, 0))
}
