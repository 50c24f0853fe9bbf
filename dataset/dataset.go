// Package dataset holds the in-memory representation of a completed
// multi-view reconstruction: the fused point cloud, an optional surface
// mesh, and the cameras and image poses recovered by the external
// pipeline. A dataset is read-only once loaded; replacing the whole
// value is the only form of update.
package dataset

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/reconviz/reconviz/camera"
	"github.com/reconviz/reconviz/projection"
)

// DefaultColor is assigned to every point when the pipeline did not
// record colors, so consumers never need a nil check for colors.
var DefaultColor = [3]float64{0.5, 0.5, 0.5}

// Mesh is the optional surface reconstruction. Triangles index into
// Vertices. VertexColors is nil when the mesher emitted no colors.
type Mesh struct {
	Vertices     []r3.Vector
	Triangles    [][3]int
	VertexColors [][3]float64
}

// Image records the pose of one registered source image. The extrinsic
// is the 4x4 rigid transform taking world coordinates into the camera
// frame of the image.
type Image struct {
	CameraID  int
	Extrinsic *mat.Dense
}

// Dataset aggregates everything a reconstruction run produced. Points
// and Colors are parallel and keep the pipeline's original point order.
type Dataset struct {
	Points  []r3.Vector
	Colors  [][3]float64
	Mesh    *Mesh
	Cameras map[int]camera.Camera
	Images  map[string]Image
}

// DanglingCameraReferenceError reports an image pose whose camera id is
// absent from the camera table. It is detected when the image's
// intrinsics are requested, not at load time.
type DanglingCameraReferenceError struct {
	ImageName string
	CameraID  int
}

func (e *DanglingCameraReferenceError) Error() string {
	return fmt.Sprintf("image %q references camera %d which is not in the dataset",
		e.ImageName, e.CameraID)
}

// IntrinsicsForImage resolves the intrinsic matrix of the camera that
// captured the named image.
func (d *Dataset) IntrinsicsForImage(name string) (*mat.Dense, error) {
	img, ok := d.Images[name]
	if !ok {
		return nil, errors.Errorf("no image %q in dataset", name)
	}
	cam, ok := d.Cameras[img.CameraID]
	if !ok {
		return nil, &DanglingCameraReferenceError{ImageName: name, CameraID: img.CameraID}
	}
	return cam.Intrinsics()
}

// ProjectImage projects the point cloud into the named image and carries
// the point colors through the validity mask, keeping the surviving
// projections aligned with their colors.
func (d *Dataset) ProjectImage(name string) ([]r2.Point, [][3]float64, error) {
	intrinsic, err := d.IntrinsicsForImage(name)
	if err != nil {
		return nil, nil, err
	}
	pts, valid, err := projection.Project(d.Points, intrinsic, d.Images[name].Extrinsic)
	if err != nil {
		return nil, nil, err
	}
	colors := make([][3]float64, 0, len(pts))
	for i, ok := range valid {
		if ok {
			colors = append(colors, d.Colors[i])
		}
	}
	return pts, colors, nil
}
