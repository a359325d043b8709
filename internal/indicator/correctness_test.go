package indicator

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA_Example(t *testing.T) {
	pts := pointsFromCloses(10, 11, 12, 13, 14, 15, 16, 17, 18, 19)
	out := run(t, KindSMA, Params{"period": "5"}, pts)

	require.Len(t, out, 6)
	assert.Equal(t, pts[4].Date, out[0].Date)
	assert.True(t, out[0].Values["sma"].Num.Equal(decimal.NewFromInt(12)), "sma=%s", out[0].Values["sma"])
	assert.False(t, out[0].Values["rising"].Bool)
	assert.True(t, out[1].Values["sma"].Num.Equal(decimal.NewFromInt(13)))
	assert.True(t, out[1].Values["rising"].Bool)
}

func TestSMA_WarmupCount(t *testing.T) {
	pts := wave(40)
	for _, period := range []int{1, 2, 5, 14, 40} {
		out := run(t, KindSMA, Params{"period": strconv.Itoa(period)}, pts)
		if len(out) != len(pts)-period+1 {
			t.Errorf("period %d: got %d outputs, want %d", period, len(out), len(pts)-period+1)
		}
		if len(out) > 0 && !out[0].Date.Equal(pts[period-1].Date) {
			t.Errorf("period %d: first output on %v", period, out[0].Date)
		}
	}
	assert.Empty(t, run(t, KindSMA, Params{"period": "41"}, pts))
}

func TestEMA_SeededWithFirstValue(t *testing.T) {
	out := run(t, KindEMA, Params{"period": "3"}, pointsFromCloses(10, 10, 10, 16))
	require.Len(t, out, 2)
	assertClose(t, "ema[2]", out[0].Values["ema"].Num, 10, 1e-12)
	assert.False(t, out[0].Values["rising"].Bool)
	// alpha = 0.5
	assertClose(t, "ema[3]", out[1].Values["ema"].Num, 13, 1e-12)
	assert.True(t, out[1].Values["rising"].Bool)
}

func TestBollinger_KnownValues(t *testing.T) {
	out := run(t, KindBollinger, Params{"period": "5", "std": "2"}, pointsFromCloses(1, 2, 3, 4, 5))
	require.Len(t, out, 1)
	v := out[0].Values
	assertClose(t, "sma", v["sma"].Num, 3, 1e-12)
	assertClose(t, "upper", v["bb_upper"].Num, 3+2*1.5811388300841898, 1e-12)
	assertClose(t, "lower", v["bb_lower"].Num, 3-2*1.5811388300841898, 1e-12)
	assertClose(t, "bb_pc", v["bb_pc"].Num, 0.816227766016838, 1e-12)
	assert.False(t, v["bb_expanding"].Bool)
}

func TestBollinger_ConstantSeriesHasNoPercentB(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 42.5
	}
	out := run(t, KindBollinger, Params{"period": "20", "std": "2"}, pointsFromCloses(closes...))
	require.Len(t, out, 11)
	for _, o := range out {
		_, ok := o.Values["bb_pc"]
		assert.False(t, ok, "bb_pc must be absent on a zero-width band")
		assert.True(t, o.Values["bb_upper"].Num.Equal(o.Values["bb_lower"].Num))
		assert.False(t, o.Values["bb_expanding"].Bool)
	}
}

func TestBollinger_PercentBOutsideBandsNotClamped(t *testing.T) {
	out := run(t, KindBollinger, Params{"period": "3", "std": "1"}, pointsFromCloses(10, 10.1, 20))
	require.Len(t, out, 1)
	assert.True(t, out[0].Values["bb_pc"].Num.GreaterThan(decimal.NewFromInt(1)))
}

func TestRSI_AllGains(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	out := run(t, KindRSI, Params{"period": "14"}, pointsFromCloses(closes...))
	require.Len(t, out, 20-14)
	for _, o := range out {
		assertClose(t, "rsi", o.Values["rsi"].Num, 100, 0)
	}
}

func TestRSI_Mixed(t *testing.T) {
	// gains 2,0 losses 0,1 over period 2 → avgGain 1, avgLoss 0.5, rs 2
	out := run(t, KindRSI, Params{"period": "2"}, pointsFromCloses(10, 12, 11))
	require.Len(t, out, 1)
	assertClose(t, "rsi", out[0].Values["rsi"].Num, 100-100.0/3, 1e-12)
}

func TestADXDMI_WarmupAndRange(t *testing.T) {
	pts := wave(120)
	out := run(t, KindADXDMI, Params{"period": "14"}, pts)
	require.Len(t, out, len(pts)-14)
	assert.Equal(t, pts[14].Date, out[0].Date)

	for _, o := range out {
		adx := o.Values["adx"].Num
		assert.False(t, adx.IsNegative())
		assert.False(t, adx.GreaterThan(hundred))
		bull := o.Values["dmi_p"].Num.GreaterThan(o.Values["dmi_m"].Num)
		assert.Equal(t, bull, o.Values["dmi_bull"].Bool)
	}
}

func TestADXDMI_CrossingDateMonotone(t *testing.T) {
	out := run(t, KindADXDMI, Params{"period": "5"}, wave(200))

	flips := 0
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1].Values, out[i].Values
		flipped := prev["dmi_bull"].Bool != cur["dmi_bull"].Bool
		pd, hadPrev := prev["adx_crossing_date"]
		cd, hasCur := cur["adx_crossing_date"]

		if flipped {
			flips++
			require.True(t, hasCur)
			assert.Equal(t, out[i].Date, cd.Date, "crossing date must be the flip date")
			continue
		}
		assert.Equal(t, hadPrev, hasCur)
		if hasCur {
			assert.True(t, pd.Date.Equal(cd.Date), "crossing date moved without a flip at %v", out[i].Date)
		}
	}
	assert.Greater(t, flips, 0, "test series should contain trend flips")
	_, ok := out[0].Values["adx_crossing_date"]
	assert.False(t, ok, "no crossing before the first flip")
}

func TestPSAR_ReversalOnBreak(t *testing.T) {
	pts := []Point{
		makePoint(0, 9.5, 10, 9),
		makePoint(1, 10.5, 11, 10),
		makePoint(2, 11.5, 12, 11),
		makePoint(3, 12.5, 13, 12),
		makePoint(4, 13.5, 14, 13),
		makePoint(5, 8, 11, 5),
	}
	out := run(t, KindPSAR, Params{}, pts)
	require.Len(t, out, 6)

	assertClose(t, "psar[0]", out[0].Values["psar"].Num, 9, 0)
	assertClose(t, "psar[1]", out[1].Values["psar"].Num, 9.02, 1e-12)
	assertClose(t, "psar[2]", out[2].Values["psar"].Num, 9.0992, 1e-12)
	for _, o := range out[:5] {
		assert.True(t, o.Values["psar_bull"].Bool)
		_, ok := o.Values["psar_change_date"]
		assert.False(t, ok)
	}

	last := out[5].Values
	assert.False(t, last["psar_bull"].Bool)
	assertClose(t, "psar[5]", last["psar"].Num, 14, 0)
	assert.Equal(t, pts[5].Date, last["psar_change_date"].Date)
}

func TestPSAR_AccelerationCapped(t *testing.T) {
	pts := make([]Point, 40)
	for i := range pts {
		c := float64(10 + i)
		pts[i] = makePoint(i, c, c+0.5, c-0.5)
	}
	alg, err := newPSAR(Params{"af": "0.05", "max": "0.1"})
	require.NoError(t, err)
	for _, p := range pts {
		alg.Step(p)
	}
	assert.True(t, alg.(*PSAR).AF.Equal(decimal.RequireFromString("0.1")))
}

func TestSlope_Differences(t *testing.T) {
	out := run(t, KindSlope, Params{"source": "sma_50"}, pointsFromCloses(1, 3, 2))
	require.Len(t, out, 2)
	assertClose(t, "slope[1]", out[0].Values["slope"].Num, 2, 0)
	assert.True(t, out[0].Values["rising"].Bool)
	assertClose(t, "slope[2]", out[1].Values["slope"].Num, -1, 0)
	assert.False(t, out[1].Values["rising"].Bool)
}

func TestHighLow_Window(t *testing.T) {
	pts := []Point{
		makePoint(0, 10, 12, 8),
		makePoint(1, 11, 15, 9),
		makePoint(2, 12, 13, 11),
		makePoint(3, 10, 11, 7),
	}
	out := run(t, KindHighLow, Params{"period": "3"}, pts)
	require.Len(t, out, 2)
	assertClose(t, "high", out[0].Values["window_high"].Num, 15, 0)
	assertClose(t, "low", out[0].Values["window_low"].Num, 8, 0)
	assertClose(t, "high_pc", out[0].Values["window_high_pc"].Num, -20, 1e-12)
	assertClose(t, "low_pc", out[0].Values["window_low_pc"].Num, 50, 1e-12)
	assertClose(t, "low[3]", out[1].Values["window_low"].Num, 7, 0)
}

func TestSqrt(t *testing.T) {
	assert.True(t, sqrt(decimal.NewFromInt(16)).Equal(decimal.NewFromInt(4)))
	assert.True(t, sqrt(decimal.NewFromInt(2)).Equal(decimal.RequireFromString("1.414213562373095")))
	assert.True(t, sqrt(decimal.RequireFromString("2.5")).Equal(decimal.RequireFromString("1.5811388300841897")))
	assert.True(t, sqrt(decimal.Zero).IsZero())
}

func TestLarger_ComparesSources(t *testing.T) {
	pt := func(a, b float64) Point {
		return Point{Sources: map[string]decimal.Decimal{"source1": dec(a), "source2": dec(b)}}
	}
	out := run(t, KindLarger, Params{"source1": "sma_5", "source2": "sma_20"}, []Point{pt(2, 1), pt(1, 1), pt(1, 2)})
	require.Len(t, out, 3)
	assert.True(t, out[0].Values["larger"].Bool)
	assert.False(t, out[1].Values["larger"].Bool, "equal is not larger")
	assert.False(t, out[2].Values["larger"].Bool)
}
