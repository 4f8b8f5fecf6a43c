package cache

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/internal/storage"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#fff", want: color.NRGBA{255, 255, 255, 255}},
		{in: "#336699", want: color.NRGBA{0x33, 0x66, 0x99, 0xff}},
		{in: "#33669980", want: color.NRGBA{0x33, 0x66, 0x99, 0x80}},
		{in: " 10, 20, 30 \n", want: color.NRGBA{10, 20, 30, 255}},
		{in: "10,20,30,40", want: color.NRGBA{10, 20, 30, 40}},
		{in: "", wantErr: true},
		{in: "#12", wantErr: true},
		{in: "#gggggg", wantErr: true},
		{in: "1,2", wantErr: true},
		{in: "1,2,300", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoderResolve(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Put("", "icon.logo.png", testPNG(t, 4, 2))
	store.Put("", "brand.primary.color", []byte("#336699"))
	store.Put("", "body.ttf", goregular.TTF)
	store.Put("onboarding", "step1/a.png", []byte("x"))
	store.Put("onboarding", "step1/b.png", []byte("x"))

	d := NewDecoder(config.CacheConfig{})

	v, size, err := d.Resolve(ctx, store, types.NewCacheKey("icon.logo", types.KindImage, ""))
	require.NoError(t, err)
	img, ok := v.(image.Image)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.Positive(t, size)

	v, _, err = d.Resolve(ctx, store, types.NewCacheKey("brand.primary", types.KindColor, ""))
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{0x33, 0x66, 0x99, 0xff}, v)

	v, _, err = d.Resolve(ctx, store, types.NewCacheKey("body", types.KindFont, ""))
	require.NoError(t, err)
	assert.NotNil(t, v)

	v, _, err = d.Resolve(ctx, store, types.NewCacheKey("step1", types.KindBundle, "onboarding"))
	require.NoError(t, err)
	bundle := v.(*types.Bundle)
	assert.Equal(t, []string{"a.png", "b.png"}, bundle.Entries)
	assert.Equal(t, types.ScopeID("onboarding"), bundle.Scope)
}

func TestDecoderMissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Put("", "broken.png", []byte("not a png"))
	store.Put("", "bad.color", []byte("purple"))

	d := NewDecoder(config.CacheConfig{})

	_, _, err := d.Resolve(ctx, store, types.NewCacheKey("absent", types.KindImage, ""))
	assert.True(t, errors.IsNotFound(err))

	_, _, err = d.Resolve(ctx, store, types.NewCacheKey("broken", types.KindImage, ""))
	assert.True(t, errors.HasCode(err, errors.ErrCodeResourceDecode))

	_, _, err = d.Resolve(ctx, store, types.NewCacheKey("bad", types.KindColor, ""))
	assert.True(t, errors.HasCode(err, errors.ErrCodeResourceDecode))

	_, _, err = d.Resolve(ctx, store, types.NewCacheKey("x", types.ResourceKind(99), ""))
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnsupportedKind))
}

func TestDecoderExtensionOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.Put("", "hero.jpg", []byte("not a jpeg"))
	store.Put("", "hero.png", testPNG(t, 1, 1))

	d := NewDecoder(config.CacheConfig{ImageExtensions: []string{".png", ".jpg"}})
	_, _, err := d.Resolve(ctx, store, types.NewCacheKey("hero", types.KindImage, ""))
	require.NoError(t, err)
	assert.Zero(t, store.Fetches("", "hero.jpg"))
}
