package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/model"
)

// tradingDays generates one bar per weekday starting at from.
func tradingDays(from string, n int) []model.PriceBar {
	d, err := model.ParseDate(from)
	if err != nil {
		panic(err)
	}
	bars := make([]model.PriceBar, 0, n)
	for i := 0; len(bars) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := 50 + 8*math.Sin(float64(i)/6) + float64(i)*0.1
		c = math.Round(c*100) / 100
		bars = append(bars, model.PriceBar{
			Date:   d,
			Open:   decimal.NewFromFloat(c - 0.3),
			High:   decimal.NewFromFloat(c + 1 + float64(i%3)*0.5),
			Low:    decimal.NewFromFloat(c - 1 - float64(i%2)*0.5),
			Close:  decimal.NewFromFloat(c),
			Volume: int64(1000 + i*10),
		})
		i++
	}
	return bars
}

func testPlan(t *testing.T) *Plan {
	t.Helper()
	cfg := `{"indicators": [
	  {"id": "sma5", "indicator": "SimpleMovingAverage", "interval": "d", "parameters": {"period": 5},
	   "mapping": {"sma": "sma_5", "rising": "sma_5_rising"}},
	  {"id": "slope", "indicator": "Slope", "interval": "d", "parameters": {"source": "sma_5"},
	   "mapping": {"slope": "sma_5_slope"}},
	  {"id": "bb", "indicator": "BollingerBands", "interval": "d", "parameters": {"period": 10},
	   "mapping": {"bb_pc": "bb_pc_10"}},
	  {"id": "adxw", "indicator": "ADXDMI", "interval": "w", "parameters": {"period": 3},
	   "mapping": {"adx": "adx_w", "dmi_bull": "dmi_bull_w", "adx_crossing_date": "adx_cross_w"}},
	  {"id": "adxslope", "indicator": "Slope", "interval": "w", "parameters": {"source": "adx_w"},
	   "mapping": {"slope": "adx_w_slope"}},
	  {"id": "psarm", "indicator": "PSAR", "interval": "m",
	   "mapping": {"psar_bull": "psar_bull_m", "psar_change_date": "psar_change_m"}}
	]}`
	decls, err := ParseConfig([]byte(cfg), false)
	require.NoError(t, err)
	plan, err := NewPlan(decls)
	require.NoError(t, err)
	return plan
}

func requireSameFields(t *testing.T, want, got map[string]*model.Value) {
	t.Helper()
	require.Len(t, got, len(want))
	for f, wv := range want {
		gv, ok := got[f]
		require.True(t, ok, "missing field %s", f)
		if wv == nil || gv == nil {
			require.True(t, wv == nil && gv == nil, "%s: full=%v incremental=%v", f, wv, gv)
			continue
		}
		require.True(t, wv.Equal(*gv), "%s: full=%s incremental=%s", f, wv, gv)
	}
}

func TestEngine_SlopeRunsAfterSMA(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	bars := tradingDays("2024-01-01", 12)

	out, err := e.Compute(context.Background(), "SEC1", bars, nil, Options{Mode: ModeFull, History: true})
	require.NoError(t, err)

	sma := out.Result.History["sma_5"]
	slope := out.Result.History["sma_5_slope"]
	require.Len(t, sma, 8)
	require.Len(t, slope, 7, "one slope per consecutive pair of SMA outputs")
	assert.Equal(t, sma[1].Date, slope[0].Date)
	for i, sp := range slope {
		want := sma[i+1].Value.Num.Sub(sma[i].Value.Num)
		assert.True(t, want.Equal(sp.Value.Num), "slope[%d]", i)
	}
}

func TestEngine_IncrementalMatchesFull(t *testing.T) {
	plan := testPlan(t)
	e := NewEngine(plan, nil)
	bars := tradingDays("2024-01-01", 160)
	ctx := context.Background()

	full, err := e.Compute(ctx, "SEC1", bars, nil, Options{Mode: ModeFull})
	require.NoError(t, err)

	for _, split := range []int{20, 63, 64, 100, 159} {
		first, err := e.Compute(ctx, "SEC1", bars[:split], nil, Options{Mode: ModeFull})
		require.NoError(t, err)

		inc, err := e.Compute(ctx, "SEC1", bars, first.States, Options{Mode: ModeIncremental})
		require.NoError(t, err)
		if split >= 63 {
			// by then every interval has a closed bar to anchor state on
			assert.Empty(t, inc.Recomputed, "split %d", split)
		}

		requireSameFields(t, full.Result.Fields, inc.Result.Fields)
		require.Len(t, inc.States, len(full.States))
		for id, blob := range full.States {
			assert.JSONEq(t, string(blob), string(inc.States[id]), "split %d state %s", split, id)
		}
		assert.Equal(t, full.Result.Extra, inc.Result.Extra)
	}
}

func TestEngine_IncrementalWithoutNewBarsKeepsFields(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	bars := tradingDays("2024-01-01", 80)
	ctx := context.Background()

	first, err := e.Compute(ctx, "SEC1", bars, nil, Options{Mode: ModeFull})
	require.NoError(t, err)
	again, err := e.Compute(ctx, "SEC1", bars, first.States, Options{Mode: ModeIncremental})
	require.NoError(t, err)

	// daily specs have nothing new; forming weekly/monthly bars are re-evaluated
	assert.NotContains(t, again.Result.Fields, "sma_5")
	assert.NotContains(t, again.Result.Fields, "sma_5_slope")
	for id, blob := range first.States {
		assert.JSONEq(t, string(blob), string(again.States[id]), id)
	}
}

func TestEngine_CorruptStateFallsBackToFull(t *testing.T) {
	plan := testPlan(t)
	e := NewEngine(plan, nil)
	var corrupt []string
	e.OnStateCorrupt = func(id string) { corrupt = append(corrupt, id) }

	bars := tradingDays("2024-01-01", 90)
	ctx := context.Background()
	full, err := e.Compute(ctx, "SEC1", bars, nil, Options{Mode: ModeFull})
	require.NoError(t, err)
	first, err := e.Compute(ctx, "SEC1", bars[:60], nil, Options{Mode: ModeFull})
	require.NoError(t, err)

	states := map[string][]byte{}
	for k, v := range first.States {
		states[k] = v
	}
	states["slope"] = []byte("garbage")

	inc, err := e.Compute(ctx, "SEC1", bars, states, Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Equal(t, []string{"slope"}, corrupt)
	// the slope's source is recomputed with it
	assert.ElementsMatch(t, []string{"sma5", "slope"}, inc.Recomputed)
	requireSameFields(t, full.Result.Fields, inc.Result.Fields)
}

func TestEngine_StateFromRewrittenHistoryIsDiscarded(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	ctx := context.Background()
	bars := tradingDays("2024-01-01", 40)

	other, err := e.Compute(ctx, "SEC1", tradingDays("2023-01-02", 40), nil, Options{Mode: ModeFull})
	require.NoError(t, err)

	inc, err := e.Compute(ctx, "SEC1", bars, other.States, Options{Mode: ModeIncremental})
	require.NoError(t, err)
	assert.Len(t, inc.Recomputed, len(e.Plan().Specs))
}

func TestEngine_MappingNullsAndExtra(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	out, err := e.Compute(context.Background(), "SEC1", tradingDays("2024-01-01", 3), nil, Options{Mode: ModeFull})
	require.NoError(t, err)

	// three bars: nothing has warmed up, so every mapped daily field is null
	for _, f := range []string{"sma_5", "sma_5_rising", "sma_5_slope", "bb_pc_10"} {
		v, ok := out.Result.Fields[f]
		assert.True(t, ok, f)
		assert.Nil(t, v, f)
	}
	// PSAR emits from the first bar; psar itself is unmapped
	require.NotNil(t, out.Result.Fields["psar_bull_m"])
	assert.True(t, out.Result.Fields["psar_bull_m"].Bool)
	assert.Nil(t, out.Result.Fields["psar_change_m"], "no flip yet")

	var extra map[string]any
	require.NoError(t, json.Unmarshal(out.Result.Extra["psarm"], &extra))
	assert.Equal(t, "2024-01-03", extra["as_of"])
	assert.Equal(t, true, extra["forming"])
	assert.Contains(t, extra, "psar")
	assert.NotContains(t, extra, "psar_bull")
	assert.Equal(t, "2024-01-03", model.FormatDate(out.Result.AsOf))
}

func TestEngine_FormingWeekNotInState(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	bars := tradingDays("2024-01-01", 33) // ends Wednesday 2024-02-14

	out, err := e.Compute(context.Background(), "SEC1", bars, nil, Options{Mode: ModeFull})
	require.NoError(t, err)

	st, err := indicator.DecodeState(out.States["adxw"])
	require.NoError(t, err)
	assert.Equal(t, "2024-02-09", model.FormatDate(st.LastDate), "last closed week ends on Friday 02-09")
}

func TestEngine_Cancelled(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := e.Compute(ctx, "SEC1", tradingDays("2024-01-01", 30), nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestEngine_Errors(t *testing.T) {
	e := NewEngine(testPlan(t), nil)
	_, err := e.Compute(context.Background(), "SEC1", nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNoBars)

	bars := tradingDays("2024-01-01", 5)
	bars[3], bars[4] = bars[4], bars[3]
	_, err = e.Compute(context.Background(), "SEC1", bars, nil, Options{})
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)
	_, err = ParseMode("partial")
	assert.Error(t, err)
}
