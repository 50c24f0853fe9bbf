package render_test

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"

	"github.com/reconviz/reconviz/render"
)

func TestOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	pts := []r2.Point{{X: 50, Y: 50}, {X: 10, Y: 90}}
	colors := [][3]float64{{1, 0, 0}, {0, 0, 1}}

	out, err := render.Overlay(img, pts, colors, 3)
	test.That(t, err, test.ShouldBeNil)

	r, g, b, _ := out.At(50, 50).RGBA()
	test.That(t, r>>8, test.ShouldBeGreaterThan, 200)
	test.That(t, g>>8, test.ShouldBeLessThan, 50)
	test.That(t, b>>8, test.ShouldBeLessThan, 50)

	_, _, b, _ = out.At(10, 90).RGBA()
	test.That(t, b>>8, test.ShouldBeGreaterThan, 200)

	// A pixel away from both markers stays untouched.
	r, g, b, _ = out.At(80, 20).RGBA()
	test.That(t, r, test.ShouldEqual, 0)
	test.That(t, g, test.ShouldEqual, 0)
	test.That(t, b, test.ShouldEqual, 0)

	// The source image is left alone.
	r, _, _, _ = img.At(50, 50).RGBA()
	test.That(t, r, test.ShouldEqual, 0)
}

func TestOverlayNilColors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	out, err := render.Overlay(img, []r2.Point{{X: 10, Y: 10}}, nil, 2)
	test.That(t, err, test.ShouldBeNil)

	r, _, _, a := out.At(10, 10).RGBA()
	test.That(t, r>>8, test.ShouldBeGreaterThan, 200)
	test.That(t, a>>8, test.ShouldEqual, 255)
}

func TestOverlayColorCountMismatch(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	_, err := render.Overlay(img, []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 2}}, [][3]float64{{1, 0, 0}}, 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "1 colors for 2 points")
}

func TestOverlayOffCanvasPoints(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	pts := []r2.Point{{X: -500, Y: 10}, {X: 10, Y: 9000}}
	_, err := render.Overlay(img, pts, nil, 2)
	test.That(t, err, test.ShouldBeNil)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "src.png")

	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	f, err := os.Create(src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, img), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	loaded, err := render.LoadImage(src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.Bounds().Dx(), test.ShouldEqual, 32)
	test.That(t, loaded.Bounds().Dy(), test.ShouldEqual, 16)

	out := filepath.Join(tmpDir, "out.png")
	test.That(t, render.SavePNG(out, loaded), test.ShouldBeNil)
	_, err = os.Stat(out)
	test.That(t, err, test.ShouldBeNil)

	_, err = render.LoadImage(filepath.Join(tmpDir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}
