package types

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPressure(t *testing.T) {
	const ceiling = 1000

	tests := []struct {
		resident uint64
		want     PressureLevel
	}{
		{500, PressureNormal},
		{799, PressureNormal},
		{800, PressureWarning},
		{850, PressureWarning},
		{899, PressureWarning},
		{900, PressureCritical},
		{950, PressureCritical},
		{1200, PressureCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPressure(tt.resident, ceiling), "resident=%d", tt.resident)
	}

	assert.Equal(t, PressureCritical, ClassifyPressure(1, 0))
	assert.Equal(t, PressureWarning, ClassifyPressureWith(60, 100, 0.5, 0.7))
}

func TestCacheKeyEquality(t *testing.T) {
	a := NewCacheKey("icon.logo", KindImage, "main")
	b := CacheKey{Name: "icon.logo", Kind: KindImage, Scope: "main"}
	c := NewCacheKey("icon.logo", KindColor, "main")

	m := map[CacheKey]int{a: 1}
	m[b]++
	m[c]++

	assert.Equal(t, 2, m[a])
	assert.Equal(t, 1, m[c])
	assert.Len(t, m, 2)
	assert.Equal(t, "image:icon.logo", NewCacheKey("icon.logo", KindImage, DefaultScope).String())
	assert.Equal(t, "color:main/accent", NewCacheKey("accent", KindColor, "main").String())
}

func TestParseResourceKind(t *testing.T) {
	for _, kind := range AllKinds {
		parsed, err := ParseResourceKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}

	_, err := ParseResourceKind("sound")
	assert.Error(t, err)
	assert.Equal(t, "unknown", ResourceKind(42).String())
}

func TestResourceAccessors(t *testing.T) {
	img := &Resource{Value: image.NewNRGBA(image.Rect(0, 0, 2, 2))}
	assert.NotNil(t, img.Image())
	assert.Nil(t, img.Font())
	assert.Nil(t, img.Bundle())
	_, ok := img.Color()
	assert.False(t, ok)

	col := &Resource{Value: color.NRGBA{R: 255, A: 255}}
	c, ok := col.Color()
	assert.True(t, ok)
	assert.Equal(t, uint8(255), c.R)
	assert.Nil(t, col.Image())

	bundle := &Resource{Value: &Bundle{ID: "onboarding", Entries: []string{"a.png"}}}
	require.NotNil(t, bundle.Bundle())
	assert.Equal(t, "onboarding", bundle.Bundle().ID)

	var missing *Resource
	assert.Nil(t, missing.Image())
	assert.Nil(t, missing.Bundle())
}

func TestLoadOutcome(t *testing.T) {
	res := &Resource{}
	assert.True(t, LoadOutcome{Kind: OutcomeHit, Resource: res}.OK())
	assert.True(t, LoadOutcome{Kind: OutcomeLoaded, Resource: res}.OK())
	assert.False(t, LoadOutcome{Kind: OutcomeMiss}.OK())
	assert.False(t, LoadOutcome{Kind: OutcomeMiss}.Failed())
	assert.True(t, LoadOutcome{Kind: OutcomeMiss, Err: context.DeadlineExceeded}.Failed())
	assert.False(t, LoadOutcome{Kind: OutcomeCanceled, Err: context.Canceled}.Failed())
	assert.Equal(t, "canceled", OutcomeCanceled.String())
}

func TestRange(t *testing.T) {
	r := Range{Start: 3, End: 8}
	assert.Equal(t, 5, r.Len())
	assert.True(t, r.Contains(3))
	assert.False(t, r.Contains(8))
	assert.Equal(t, 0, Range{Start: 5, End: 2}.Len())
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsCollector = NoopMetrics{}
	m.RecordCacheRequest(KindImage, OutcomeHit)
	m.RecordLoadDuration(KindFont, time.Millisecond)
	m.SetMemory(1, PressureNormal)
	m.SetPerformance(PerformanceStats{FPS: 60})
}
