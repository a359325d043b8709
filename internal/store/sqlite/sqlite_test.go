package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicator-engine/internal/model"
)

func openStores(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	w, err := New(WriterConfig{DBPath: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func bar(date string, close string) model.PriceBar {
	d, _ := model.ParseDate(date)
	c := decimal.RequireFromString(close)
	return model.PriceBar{
		Date:   d,
		Open:   c,
		High:   c.Add(decimal.NewFromInt(1)),
		Low:    c.Sub(decimal.NewFromInt(1)),
		Close:  c,
		Volume: 100,
	}
}

func TestBarsRoundTrip(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	// inserted out of order: ReadBars sorts by date
	bars := []model.PriceBar{bar("2024-01-03", "101.25"), bar("2024-01-02", "100.1234567890123")}
	require.NoError(t, w.AppendBars(ctx, "AAPL", bars))
	require.NoError(t, w.AppendBars(ctx, "MSFT", []model.PriceBar{bar("2024-01-02", "300")}))

	got, err := r.ReadBars(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-01-02", model.FormatDate(got[0].Date))
	assert.Equal(t, "100.1234567890123", got[0].Close.String())
	assert.Equal(t, "102.25", got[1].High.String())
	assert.Equal(t, int64(100), got[1].Volume)

	ids, err := r.ListSecurities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, ids)

	none, err := r.ReadBars(ctx, "NOPE")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAppendBarsReplacesSameDate(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	require.NoError(t, w.AppendBars(ctx, "AAPL", []model.PriceBar{bar("2024-01-02", "100")}))
	require.NoError(t, w.AppendBars(ctx, "AAPL", []model.PriceBar{bar("2024-01-02", "99")}))

	got, err := r.ReadBars(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "99", got[0].Close.String())
}

func TestRunBatchesChannel(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	ch := make(chan SecurityBar)
	done := make(chan int)
	go func() { done <- w.Run(ctx, ch) }()

	start, _ := model.ParseDate("2024-01-01")
	for i := 0; i < 1200; i++ {
		b := bar("2024-01-01", "10")
		b.Date = start.AddDate(0, 0, i)
		ch <- SecurityBar{SecurityID: "AAPL", Bar: b}
	}
	close(ch)
	assert.Equal(t, 1200, <-done)

	got, err := r.ReadBars(ctx, "AAPL")
	require.NoError(t, err)
	assert.Len(t, got, 1200)
}

func TestStatesRoundTrip(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	require.NoError(t, w.SaveStates(ctx, "AAPL", map[string][]byte{
		"sma": []byte(`{"v":1}`),
		"rsi": []byte(`{"v":2}`),
	}))
	require.NoError(t, w.SaveStates(ctx, "AAPL", map[string][]byte{"sma": []byte(`{"v":3}`)}))

	got, err := r.LoadStates(ctx, "AAPL", []string{"sma", "rsi", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"sma": []byte(`{"v":3}`),
		"rsi": []byte(`{"v":2}`),
	}, got)

	other, err := r.LoadStates(ctx, "MSFT", []string{"sma"})
	require.NoError(t, err)
	assert.Empty(t, other)

	empty, err := r.LoadStates(ctx, "AAPL", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMergeRecordKeepsUnrelatedFields(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	first := model.NewComputationResult("AAPL")
	first.AsOf = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	v := model.Number(decimal.RequireFromString("12.5"))
	first.Fields["sma_5"] = &v
	first.Fields["rsi_14"] = nil
	first.Extra["bb"] = json.RawMessage(`{"as_of":"2024-01-02"}`)
	require.NoError(t, w.MergeRecord(ctx, first))

	second := model.NewComputationResult("AAPL")
	second.AsOf = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	b := model.Bool(true)
	second.Fields["dmi_bull"] = &b
	rsi := model.Number(decimal.NewFromInt(55))
	second.Fields["rsi_14"] = &rsi
	require.NoError(t, w.MergeRecord(ctx, second))

	rec, err := r.ReadRecord(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "2024-01-03", rec.AsOf)
	assert.JSONEq(t, `12.5`, string(rec.Fields["sma_5"]))
	assert.JSONEq(t, `55`, string(rec.Fields["rsi_14"]))
	assert.JSONEq(t, `true`, string(rec.Fields["dmi_bull"]))
	assert.JSONEq(t, `{"as_of":"2024-01-02"}`, string(rec.Extra["bb"]))

	none, err := r.ReadRecord(ctx, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMergeRecordWritesExplicitNull(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()

	res := model.NewComputationResult("AAPL")
	res.AsOf = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	res.Fields["adx"] = nil
	require.NoError(t, w.MergeRecord(ctx, res))

	rec, err := r.ReadRecord(ctx, "AAPL")
	require.NoError(t, err)
	raw, ok := rec.Fields["adx"]
	require.True(t, ok)
	assert.Equal(t, "null", string(raw))
}

func TestStatesAdapter(t *testing.T) {
	w, r := openStores(t)
	ctx := context.Background()
	st := States(r, w)

	require.NoError(t, st.SaveStates(ctx, "AAPL", map[string][]byte{"sma": []byte("x")}))
	got, err := st.LoadStates(ctx, "AAPL", []string{"sma"})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got["sma"])
}
