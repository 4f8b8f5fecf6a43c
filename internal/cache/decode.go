package cache

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder
	"golang.org/x/image/font/opentype"

	"github.com/viewkit/viewkit/internal/config"
	"github.com/viewkit/viewkit/pkg/errors"
	"github.com/viewkit/viewkit/pkg/types"
)

// Decoder resolves a key against a backing store and decodes the bytes it finds.
type Decoder struct {
	imageExts []string
	fontExts  []string
	colorExt  string
}

// NewDecoder builds a decoder from the cache extension settings.
func NewDecoder(cfg config.CacheConfig) *Decoder {
	d := &Decoder{
		imageExts: cfg.ImageExtensions,
		fontExts:  cfg.FontExtensions,
		colorExt:  cfg.ColorExtension,
	}
	defaults := config.NewDefault().Cache
	if len(d.imageExts) == 0 {
		d.imageExts = defaults.ImageExtensions
	}
	if len(d.fontExts) == 0 {
		d.fontExts = defaults.FontExtensions
	}
	if d.colorExt == "" {
		d.colorExt = defaults.ColorExtension
	}
	return d
}

// Resolve fetches and decodes key. It returns the decoded value and the number of bytes read.
// Absent resources yield a RESOURCE_NOT_FOUND or SCOPE_NOT_FOUND error.
func (d *Decoder) Resolve(ctx context.Context, store types.Store, key types.CacheKey) (interface{}, int64, error) {
	switch key.Kind {
	case types.KindImage:
		return d.firstOf(ctx, store, key, d.imageExts, decodeImage)
	case types.KindFont:
		return d.firstOf(ctx, store, key, d.fontExts, decodeFont)
	case types.KindColor:
		data, err := store.Fetch(ctx, key.Scope, key.Name+d.colorExt)
		if err != nil {
			return nil, 0, err
		}
		c, err := ParseColor(string(data))
		if err != nil {
			return nil, 0, decodeError(key, err)
		}
		return c, int64(len(data)), nil
	case types.KindBundle:
		entries, err := store.List(ctx, key.Scope, key.Name)
		if err != nil {
			return nil, 0, err
		}
		return &types.Bundle{ID: key.Name, Scope: key.Scope, Entries: entries}, 0, nil
	default:
		return nil, 0, errors.Newf(errors.ErrCodeUnsupportedKind, "unsupported resource kind %d", key.Kind).
			WithComponent("decoder")
	}
}

// firstOf tries each extension in order and decodes the first file that exists.
func (d *Decoder) firstOf(ctx context.Context, store types.Store, key types.CacheKey, exts []string,
	decode func([]byte) (interface{}, error)) (interface{}, int64, error) {
	for _, ext := range exts {
		data, err := store.Fetch(ctx, key.Scope, key.Name+ext)
		if errors.HasCode(err, errors.ErrCodeResourceNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}

		v, err := decode(data)
		if err != nil {
			return nil, 0, decodeError(key, err).WithDetail("extension", ext)
		}
		return v, int64(len(data)), nil
	}

	return nil, 0, errors.Newf(errors.ErrCodeResourceNotFound, "no %s named %q", key.Kind, key.Name).
		WithComponent("decoder").
		WithDetail("scope", string(key.Scope))
}

func decodeImage(data []byte) (interface{}, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func decodeFont(data []byte) (interface{}, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func decodeError(key types.CacheKey, cause error) *errors.ViewkitError {
	return errors.Wrap(errors.ErrCodeResourceDecode, "failed to decode "+key.String(), cause).
		WithComponent("decoder")
}

// ParseColor parses "#RGB", "#RRGGBB", "#RRGGBBAA" or "r,g,b[,a]" with 0-255 components.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return color.NRGBA{}, fmt.Errorf("empty color")
	}

	if strings.HasPrefix(s, "#") {
		return parseHexColor(s[1:])
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	c := [4]uint8{3: 255}
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("invalid color component %q: %w", part, err)
		}
		c[i] = uint8(v)
	}
	return color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}, nil
}

func parseHexColor(hex string) (color.NRGBA, error) {
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color #%s", hex)
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color #%s: %w", hex, err)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}
