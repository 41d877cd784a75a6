package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

// DefaultPreviewScaleM is the depth rendered at full intensity.
const DefaultPreviewScaleM = 5.0

// ThumbnailSize bounds both edges of a thumbnail.
const ThumbnailSize = 256

// depthColor maps a normalized depth to the blue preview palette. Alpha
// tracks depth so dry cells are transparent over a basemap.
func depthColor(n float64) color.NRGBA {
	return color.NRGBA{
		R: 0,
		G: uint8(119 * n),
		B: uint8(190 * n),
		A: uint8(255 * n),
	}
}

// RenderPreview draws g with the blue depth colormap, saturating at scaleM.
func RenderPreview(g Grid, scaleM float64) (*image.NRGBA, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	if !(scaleM > 0) {
		scaleM = DefaultPreviewScaleM
	}
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			n := g.Data[y*g.Width+x] / scaleM
			switch {
			case n < 0 || math.IsNaN(n):
				n = 0
			case n > 1:
				n = 1
			}
			img.SetNRGBA(x, y, depthColor(n))
		}
	}
	return img, nil
}

// Thumbnail scales img down to fit maxSide x maxSide, keeping the aspect
// ratio. Images that already fit are copied unscaled.
func Thumbnail(img image.Image, maxSide int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxSide || h > maxSide {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
