// Package camera defines the typed camera records recovered by a COLMAP
// reconstruction and resolves their flat parameter vectors into canonical
// 3x3 pinhole intrinsic matrices.
package camera

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// COLMAP camera model identifiers.
const (
	SimplePinhole = iota
	Pinhole
	SimpleRadial
	Radial
	OpenCV
	OpenCVFisheye
	FullOpenCV
	FOV
	SimpleRadialFisheye
	RadialFisheye
	ThinPrismFisheye
)

// modelNames mirrors COLMAP's camera model table.
var modelNames = map[int]string{
	SimplePinhole:       "SIMPLE_PINHOLE",
	Pinhole:             "PINHOLE",
	SimpleRadial:        "SIMPLE_RADIAL",
	Radial:              "RADIAL",
	OpenCV:              "OPENCV",
	OpenCVFisheye:       "OPENCV_FISHEYE",
	FullOpenCV:          "FULL_OPENCV",
	FOV:                 "FOV",
	SimpleRadialFisheye: "SIMPLE_RADIAL_FISHEYE",
	RadialFisheye:       "RADIAL_FISHEYE",
	ThinPrismFisheye:    "THIN_PRISM_FISHEYE",
}

// ModelName returns the COLMAP name for a camera model id.
func ModelName(modelID int) string {
	if name, ok := modelNames[modelID]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", modelID)
}

// ModelID returns the model id for a COLMAP camera model name, or false
// if the name is not a known model.
func ModelID(name string) (int, bool) {
	for id, n := range modelNames {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// Camera describes the shared intrinsics of one physical camera. Multiple
// registered images may reference the same camera id.
type Camera struct {
	ModelID int
	Width   int
	Height  int
	Params  []float64
}

// Intrinsics resolves the camera's parameter vector into a 3x3 intrinsic
// matrix.
func (c Camera) Intrinsics() (*mat.Dense, error) {
	return Intrinsics(c.ModelID, c.Params)
}

// UnsupportedCameraModelError is returned when a camera model's parameter
// vector is too short to recover focal lengths and a principal point.
type UnsupportedCameraModelError struct {
	ModelID  int
	Required int
	Actual   int
}

func (e *UnsupportedCameraModelError) Error() string {
	return fmt.Sprintf("unsupported camera model %s: need at least %d params, got %d",
		ModelName(e.ModelID), e.Required, e.Actual)
}

// Intrinsics maps a camera model id and its parameter vector to the
// canonical intrinsic matrix [[fx,0,cx],[0,fy,cy],[0,0,1]]. Distortion
// coefficients carried by the radial and OpenCV model families are
// ignored; the projector treats every camera as an ideal pinhole.
// Unknown model ids fall back to reading the first four parameters as
// fx, fy, cx, cy, which matches every COLMAP model that stores both
// focal lengths first.
func Intrinsics(modelID int, params []float64) (*mat.Dense, error) {
	switch modelID {
	case SimplePinhole:
		if len(params) != 3 {
			return nil, &UnsupportedCameraModelError{ModelID: modelID, Required: 3, Actual: len(params)}
		}
		return intrinsicMatrix(params[0], params[0], params[1], params[2]), nil
	case Pinhole:
		if len(params) != 4 {
			return nil, &UnsupportedCameraModelError{ModelID: modelID, Required: 4, Actual: len(params)}
		}
		return intrinsicMatrix(params[0], params[1], params[2], params[3]), nil
	case SimpleRadial, Radial:
		if len(params) < 3 {
			return nil, &UnsupportedCameraModelError{ModelID: modelID, Required: 3, Actual: len(params)}
		}
		return intrinsicMatrix(params[0], params[0], params[1], params[2]), nil
	case OpenCV:
		if len(params) < 4 {
			return nil, &UnsupportedCameraModelError{ModelID: modelID, Required: 4, Actual: len(params)}
		}
		return intrinsicMatrix(params[0], params[1], params[2], params[3]), nil
	default:
		if len(params) < 4 {
			return nil, &UnsupportedCameraModelError{ModelID: modelID, Required: 4, Actual: len(params)}
		}
		return intrinsicMatrix(params[0], params[1], params[2], params[3]), nil
	}
}

func intrinsicMatrix(fx, fy, cx, cy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})
}
