package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type colorMode struct{ name string }

func (c colorMode) Value() any { return c.name }

type opaqueThing struct{}

func (opaqueThing) String() string { return "opaque-thing" }

func TestJSONSafeScalarsPassThrough(t *testing.T) {
	assert.Nil(t, JSONSafe(nil))
	assert.Equal(t, true, JSONSafe(true))
	assert.Equal(t, 42, JSONSafe(42))
	assert.Equal(t, 1.5, JSONSafe(1.5))
	assert.Equal(t, "hi", JSONSafe("hi"))
}

func TestJSONSafeTimeAndDuration(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06-01T12:00:00Z", JSONSafe(ts))
	assert.Equal(t, 90.0, JSONSafe(90*time.Second))
}

func TestJSONSafeContainersRecurse(t *testing.T) {
	in := map[string]any{
		"list":   []any{1 * time.Second, "x"},
		"nested": map[string]any{"d": 2 * time.Second},
	}
	out := JSONSafe(in).(map[string]any)
	assert.Equal(t, []any{1.0, "x"}, out["list"])
	assert.Equal(t, map[string]any{"d": 2.0}, out["nested"])
}

func TestJSONSafeOpaqueFallbacks(t *testing.T) {
	// Value() accessor wins over Stringer and formatting.
	assert.Equal(t, "rgb", JSONSafe(colorMode{name: "rgb"}))
	assert.Equal(t, "opaque-thing", JSONSafe(opaqueThing{}))
	assert.Equal(t, "[1 2]", JSONSafe([2]int{1, 2}))
}

func TestJSONSafeAttributesNilBecomesEmpty(t *testing.T) {
	out := JSONSafeAttributes(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}
