package ringbuf

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestWindow_PushEvict(t *testing.T) {
	w := New(3)

	for i := int64(1); i <= 3; i++ {
		if _, ev := w.Push(d(i)); ev {
			t.Fatalf("push %d: unexpected eviction", i)
		}
	}
	if !w.Full() {
		t.Fatal("window should be full after 3 pushes")
	}

	old, ev := w.Push(d(4))
	require.True(t, ev)
	assert.True(t, old.Equal(d(1)))
	assert.True(t, w.Sum.Equal(d(9)), "sum=%s", w.Sum)
	assert.Equal(t, []string{"2", "3", "4"}, strs(w.Values()))
	assert.True(t, w.Max().Equal(d(4)))
	assert.True(t, w.Min().Equal(d(2)))
}

func TestWindow_Partial(t *testing.T) {
	w := New(5)
	w.Push(d(7))
	w.Push(d(3))
	assert.Equal(t, 2, w.Len())
	assert.False(t, w.Full())
	assert.True(t, w.At(0).Equal(d(7)))
	assert.True(t, w.Min().Equal(d(3)))
}

func TestWindow_JSONRoundTripKeepsOrder(t *testing.T) {
	w := New(4)
	for i := int64(1); i <= 6; i++ {
		w.Push(d(i))
	}
	blob, err := json.Marshal(w)
	require.NoError(t, err)

	var restored Window
	require.NoError(t, json.Unmarshal(blob, &restored))
	require.NoError(t, restored.Validate(4))

	w.Push(d(10))
	restored.Push(d(10))
	assert.Equal(t, strs(w.Values()), strs(restored.Values()))
	assert.True(t, w.Sum.Equal(restored.Sum))
}

func TestWindow_ValidateRejectsWrongCapacity(t *testing.T) {
	w := New(4)
	assert.ErrorIs(t, w.Validate(5), ErrCapacity)
}

func strs(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, v := range ds {
		out[i] = v.String()
	}
	return out
}
