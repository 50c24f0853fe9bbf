// Package render draws projection results over source images.
package render

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// DefaultPointRadius is the overlay marker radius in pixels.
const DefaultPointRadius = 2.0

// Overlay draws the projected points onto a copy of img as filled
// circles. colors may be nil, in which case all points are drawn in a
// single highlight color; otherwise it must be parallel to pts with RGB
// channels in [0,1].
func Overlay(img image.Image, pts []r2.Point, colors [][3]float64, radius float64) (image.Image, error) {
	if colors != nil && len(colors) != len(pts) {
		return nil, errors.Errorf("have %d colors for %d points", len(colors), len(pts))
	}
	if radius <= 0 {
		radius = DefaultPointRadius
	}

	dc := gg.NewContextForImage(img)
	for i, p := range pts {
		if colors == nil {
			dc.SetColor(color.NRGBA{R: 255, G: 64, B: 64, A: 255})
		} else {
			dc.SetColor(color.NRGBA{
				R: channelByte(colors[i][0]),
				G: channelByte(colors[i][1]),
				B: channelByte(colors[i][2]),
				A: 255,
			})
		}
		dc.DrawCircle(p.X, p.Y, radius)
		dc.Fill()
	}
	return dc.Image(), nil
}

// LoadImage reads a source image from disk.
func LoadImage(path string) (image.Image, error) {
	img, err := gg.LoadImage(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load image %s", path)
	}
	return img, nil
}

// SavePNG writes an image out as PNG.
func SavePNG(path string, img image.Image) error {
	if err := gg.SavePNG(path, img); err != nil {
		return errors.Wrapf(err, "unable to save image %s", path)
	}
	return nil
}

func channelByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
