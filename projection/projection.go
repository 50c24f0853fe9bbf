// Package projection transforms world-space point sets into the image
// plane of a posed pinhole camera.
package projection

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// DimensionMismatchError is returned when an intrinsic or extrinsic
// matrix does not have the shape the projector expects. It indicates a
// malformed dataset on the caller's side, not bad point data.
type DimensionMismatchError struct {
	Name               string
	WantRows, WantCols int
	Rows, Cols         int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s matrix must be %dx%d, got %dx%d",
		e.Name, e.WantRows, e.WantCols, e.Rows, e.Cols)
}

func checkDims(name string, m mat.Matrix, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return &DimensionMismatchError{Name: name, WantRows: rows, WantCols: cols, Rows: r, Cols: c}
	}
	return nil
}

// Project maps world-space points into pixel coordinates under the given
// camera pose. The extrinsic (world to camera frame) is applied first and
// the intrinsic second; the intrinsic is only meaningful on camera-frame
// coordinates, so this order must not be swapped. Points whose
// camera-frame Z is not strictly positive are behind the image plane and
// are dropped from the output. The returned mask has one entry per input
// point so callers can carry per-point attributes such as colors through
// to the surviving projections.
func Project(points []r3.Vector, intrinsic, extrinsic mat.Matrix) ([]r2.Point, []bool, error) {
	if err := checkDims("intrinsic", intrinsic, 3, 3); err != nil {
		return nil, nil, err
	}
	if err := checkDims("extrinsic", extrinsic, 4, 4); err != nil {
		return nil, nil, err
	}

	n := len(points)
	if n == 0 {
		return []r2.Point{}, []bool{}, nil
	}

	// Homogeneous 4xN column matrix of the input points.
	world := mat.NewDense(4, n, nil)
	for i, p := range points {
		world.Set(0, i, p.X)
		world.Set(1, i, p.Y)
		world.Set(2, i, p.Z)
		world.Set(3, i, 1)
	}

	var camCoords mat.Dense
	camCoords.Mul(extrinsic, world)

	valid := make([]bool, n)
	nValid := 0
	for i := 0; i < n; i++ {
		if camCoords.At(2, i) > 0 {
			valid[i] = true
			nValid++
		}
	}
	if nValid == 0 {
		return []r2.Point{}, valid, nil
	}

	// Only points in front of the camera reach the intrinsic multiply.
	front := mat.NewDense(3, nValid, nil)
	col := 0
	for i := 0; i < n; i++ {
		if !valid[i] {
			continue
		}
		front.Set(0, col, camCoords.At(0, i))
		front.Set(1, col, camCoords.At(1, i))
		front.Set(2, col, camCoords.At(2, i))
		col++
	}

	var imageCoords mat.Dense
	imageCoords.Mul(intrinsic, front)

	out := make([]r2.Point, nValid)
	for i := range out {
		w := imageCoords.At(2, i)
		out[i] = r2.Point{X: imageCoords.At(0, i) / w, Y: imageCoords.At(1, i) / w}
	}
	return out, valid, nil
}
