// Package camera processes hub camera frames for constrained clients:
// crop to a normalized viewport, downscale, re-encode as JPEG, and fan the
// results out as motion-JPEG streams or batched snapshots.
package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const (
	MinWidth   = 50
	MaxWidth   = 2000
	MinQuality = 10
	MaxQuality = 95
	MinFPS     = 0.5
	MaxFPS     = 10.0

	DefaultWidth   = 400
	DefaultQuality = 75
	DefaultFPS     = 2.0

	// fullFrameTolerance: viewports within 0.1% of the full frame skip
	// the crop entirely.
	fullFrameTolerance = 0.001
)

var ErrBadFrame = errors.New("camera: undecodable frame")

// Viewport is a normalized crop region in [0,1]².
type Viewport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullFrame is the identity viewport.
func FullFrame() Viewport {
	return Viewport{X: 0, Y: 0, W: 1, H: 1}
}

func (v Viewport) isFullFrame() bool {
	return v.X <= fullFrameTolerance && v.Y <= fullFrameTolerance &&
		v.W >= 1-fullFrameTolerance && v.H >= 1-fullFrameTolerance
}

// Clamp bounds the viewport to the legal range.
func (v Viewport) Clamp() Viewport {
	return Viewport{
		X: clampFloat(v.X, 0, 1),
		Y: clampFloat(v.Y, 0, 1),
		W: clampFloat(v.W, 0.01, 1),
		H: clampFloat(v.H, 0.01, 1),
	}
}

// ProcessFrame decodes a frame, crops it to the viewport, downscales to
// the target width preserving aspect (never upscales) and re-encodes as
// JPEG at the target quality. Pure CPU work; callers run it on the worker
// pool.
func ProcessFrame(frame []byte, viewport Viewport, width, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	if !viewport.isFullFrame() {
		img = crop(img, viewport)
	}

	bounds := img.Bounds()
	if bounds.Dx() > width {
		ratio := float64(width) / float64(bounds.Dx())
		newH := int(float64(bounds.Dy()) * ratio)
		if newH < 1 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, newH))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// crop extracts the viewport region. Coordinates floor to pixel edges and
// clamp so the result is always at least 1x1 inside the source.
func crop(img image.Image, v Viewport) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	left := int(v.X * float64(w))
	top := int(v.Y * float64(h))
	right := int((v.X + v.W) * float64(w))
	bottom := int((v.Y + v.H) * float64(h))

	left = clampInt(left, 0, w-1)
	top = clampInt(top, 0, h-1)
	right = clampInt(right, left+1, w)
	bottom = clampInt(bottom, top+1, h)

	rect := image.Rect(b.Min.X+left, b.Min.Y+top, b.Min.X+right, b.Min.Y+bottom)
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Copy(dst, image.Point{}, img, rect, xdraw.Src, nil)
	return dst
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampWidth, ClampQuality and ClampFPS bound client-supplied stream
// parameters.
func ClampWidth(v int) int       { return clampInt(v, MinWidth, MaxWidth) }
func ClampQuality(v int) int     { return clampInt(v, MinQuality, MaxQuality) }
func ClampFPS(v float64) float64 { return clampFloat(v, MinFPS, MaxFPS) }
