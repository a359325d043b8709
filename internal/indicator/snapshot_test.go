package indicator

import (
	"errors"
	"testing"

	optional "github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicator-engine/internal/model"
)

var stateCases = []struct {
	kind   Kind
	params Params
}{
	{KindSMA, Params{"period": "7"}},
	{KindEMA, Params{"period": "9"}},
	{KindBollinger, Params{"period": "10", "std": "2"}},
	{KindRSI, Params{"period": "14"}},
	{KindADXDMI, Params{"period": "5"}},
	{KindPSAR, Params{}},
	{KindSlope, Params{"source": "sma_7"}},
	{KindHighLow, Params{"period": "12"}},
}

func evaluate(t *testing.T, def Definition, params Params, closed []Point, prior optional.Option[State]) Evaluation {
	t.Helper()
	ev, err := Evaluate(def, params, Input{
		Fingerprint: Fingerprint(def.Kind, model.Daily, params),
		Closed:      closed,
		Prior:       prior,
	})
	require.NoError(t, err)
	return ev
}

func sameOutputs(t *testing.T, label string, want, got []Output) {
	t.Helper()
	require.Len(t, got, len(want), label)
	for i := range want {
		require.True(t, want[i].Date.Equal(got[i].Date), "%s[%d]: date", label, i)
		require.Len(t, got[i].Values, len(want[i].Values), "%s[%d]: keys", label, i)
		for k, wv := range want[i].Values {
			gv, ok := got[i].Values[k]
			require.True(t, ok, "%s[%d]: missing %s", label, i, k)
			require.True(t, wv.Equal(gv), "%s[%d].%s: full=%s incremental=%s", label, i, k, wv, gv)
		}
	}
}

// Splitting a run at any closed bar and resuming from the persisted blob
// must reproduce the single full run exactly.
func TestEvaluate_IncrementalMatchesFull(t *testing.T) {
	pts := wave(90)
	for _, tc := range stateCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			def := mustDef(t, tc.kind)
			full := evaluate(t, def, tc.params, pts, optional.None[State]())

			for _, split := range []int{1, 3, 13, 45, 89} {
				first := evaluate(t, def, tc.params, pts[:split], optional.None[State]())
				blob, err := first.State.Encode()
				require.NoError(t, err)
				prior, err := DecodeState(blob)
				require.NoError(t, err)

				second := evaluate(t, def, tc.params, pts, optional.Some(prior))
				assert.True(t, second.Resumed)

				combined := append(append([]Output{}, first.Outputs...), second.Outputs...)
				sameOutputs(t, string(tc.kind), full.Outputs, combined)
				assert.Equal(t, full.State.LastDate, second.State.LastDate)
				assert.Equal(t, full.State.Count, second.State.Count)
				assert.JSONEq(t, string(full.State.Data), string(second.State.Data))
			}
		})
	}
}

func TestEvaluate_FormingBarNotPersisted(t *testing.T) {
	pts := wave(30)
	def := mustDef(t, KindSMA)
	params := Params{"period": "5"}
	fp := Fingerprint(def.Kind, model.Weekly, params)

	without, err := Evaluate(def, params, Input{Fingerprint: fp, Closed: pts[:29]})
	require.NoError(t, err)
	with, err := Evaluate(def, params, Input{
		Fingerprint: fp,
		Closed:      pts[:29],
		Forming:     optional.Some(pts[29]),
	})
	require.NoError(t, err)

	assert.Equal(t, string(without.State.Data), string(with.State.Data))
	assert.Equal(t, without.State.LastDate, with.State.LastDate)
	require.Len(t, with.Outputs, len(without.Outputs)+1)
	last := with.Outputs[len(with.Outputs)-1]
	assert.True(t, last.Forming)
	assert.Equal(t, pts[29].Date, last.Date)
}

func TestEvaluate_NoNewBars(t *testing.T) {
	pts := wave(20)
	def := mustDef(t, KindPSAR)
	first := evaluate(t, def, Params{}, pts, optional.None[State]())
	again := evaluate(t, def, Params{}, pts, optional.Some(first.State))
	assert.Empty(t, again.Outputs)
	assert.Equal(t, first.State.LastDate, again.State.LastDate)
	assert.Equal(t, string(first.State.Data), string(again.State.Data))
}

func TestEvaluate_CorruptState(t *testing.T) {
	pts := wave(20)
	def := mustDef(t, KindSMA)
	params := Params{"period": "5"}
	good := evaluate(t, def, params, pts[:10], optional.None[State]())

	t.Run("undecodable", func(t *testing.T) {
		_, err := DecodeState([]byte("{not json"))
		assert.ErrorIs(t, err, ErrStateCorrupt)
	})

	t.Run("wrong version", func(t *testing.T) {
		s := good.State
		s.Version = 99
		blob, _ := s.Encode()
		_, err := DecodeState(blob)
		assert.ErrorIs(t, err, ErrStateCorrupt)
	})

	t.Run("fingerprint mismatch", func(t *testing.T) {
		_, err := Evaluate(def, Params{"period": "6"}, Input{
			Fingerprint: Fingerprint(def.Kind, model.Daily, Params{"period": "6"}),
			Closed:      pts,
			Prior:       optional.Some(good.State),
		})
		assert.ErrorIs(t, err, ErrStateCorrupt)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		ema := mustDef(t, KindEMA)
		_, err := Evaluate(ema, params, Input{
			Fingerprint: good.State.Fingerprint,
			Closed:      pts,
			Prior:       optional.Some(good.State),
		})
		assert.ErrorIs(t, err, ErrStateCorrupt)
	})

	t.Run("window does not fit period", func(t *testing.T) {
		s := good.State
		s.Data = []byte(`{"window":{"buf":["1","2"],"head":0,"n":2,"sum":"3"}}`)
		_, err := Evaluate(def, params, Input{
			Fingerprint: s.Fingerprint,
			Closed:      pts,
			Prior:       optional.Some(s),
		})
		assert.ErrorIs(t, err, ErrStateCorrupt)
		assert.True(t, errors.Is(err, ErrStateCorrupt))
	})
}

func TestFingerprint_NormalizesNumbers(t *testing.T) {
	a := Fingerprint(KindSMA, model.Daily, Params{"period": "20"})
	b := Fingerprint(KindSMA, model.Daily, Params{"period": "20.0"})
	c := Fingerprint(KindSMA, model.Weekly, Params{"period": "20"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestVerify(t *testing.T) {
	def := mustDef(t, KindBollinger)
	params := Params{"period": "4"}
	fp := Fingerprint(def.Kind, model.Monthly, params)
	ev, err := Evaluate(def, params, Input{Fingerprint: fp, Closed: wave(10)})
	require.NoError(t, err)

	assert.NoError(t, Verify(def, params, fp, ev.State))
	assert.ErrorIs(t, Verify(def, Params{"period": "5"}, fp, ev.State), ErrStateCorrupt)
}
