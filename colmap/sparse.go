// Package colmap parses the artifacts an external COLMAP run leaves on
// disk: the sparse text model carrying camera and pose metadata, and the
// dense PLY outputs holding the fused point cloud and optional mesh.
package colmap

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/reconviz/reconviz/camera"
	"github.com/reconviz/reconviz/dataset"
)

// LatestModelDir returns the highest-numbered model subdirectory of a
// COLMAP sparse output directory. The mapper writes each reconstructed
// model into a directory named by its index.
func LatestModelDir(sparseDir string) (string, error) {
	entries, err := os.ReadDir(sparseDir)
	if err != nil {
		return "", errors.Wrapf(err, "unable to read sparse directory %s", sparseDir)
	}
	best := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return "", errors.Errorf("no reconstruction model found in %s", sparseDir)
	}
	return filepath.Join(sparseDir, strconv.Itoa(best)), nil
}

// ReadSparseModel parses the cameras.txt and images.txt of a COLMAP text
// model directory into typed camera and pose records.
func ReadSparseModel(modelDir string) (map[int]camera.Camera, map[string]dataset.Image, error) {
	cams, err := readCameras(filepath.Join(modelDir, "cameras.txt"))
	if err != nil {
		return nil, nil, err
	}
	images, err := readImages(filepath.Join(modelDir, "images.txt"))
	if err != nil {
		return nil, nil, err
	}
	return cams, images, nil
}

// readCameras parses lines of the form
// CAMERA_ID MODEL WIDTH HEIGHT PARAMS[].
func readCameras(path string) (_ map[int]camera.Camera, err error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "unable to open camera listing")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	cams := make(map[int]camera.Camera)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields, ok := modelLineFields(scanner.Text())
		if !ok {
			continue
		}
		if len(fields) < 5 {
			return nil, errors.Errorf("camera line has %d fields, expected at least 5", len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid camera id %q", fields[0])
		}
		modelID, ok := camera.ModelID(fields[1])
		if !ok {
			return nil, errors.Errorf("unknown camera model name %q", fields[1])
		}
		width, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid camera width %q", fields[2])
		}
		height, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid camera height %q", fields[3])
		}
		params := make([]float64, 0, len(fields)-4)
		for _, field := range fields[4:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid camera param %q", field)
			}
			params = append(params, v)
		}
		cams[id] = camera.Camera{ModelID: modelID, Width: width, Height: height, Params: params}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading camera listing")
	}
	return cams, nil
}

// readImages parses the pose lines of images.txt:
// IMAGE_ID QW QX QY QZ TX TY TZ CAMERA_ID NAME. Each pose line is
// followed by a 2D feature line, which is skipped.
func readImages(path string) (_ map[string]dataset.Image, err error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "unable to open image listing")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	images := make(map[string]dataset.Image)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	poseLine := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			continue
		}
		if !poseLine {
			// 2D feature observations (possibly an empty line), not
			// needed here.
			poseLine = true
			continue
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		poseLine = false
		if len(fields) < 10 {
			return nil, errors.Errorf("image pose line has %d fields, expected at least 10", len(fields))
		}
		vals := make([]float64, 7)
		for i := 0; i < 7; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid pose value %q", fields[i+1])
			}
			vals[i] = v
		}
		camID, err := strconv.Atoi(fields[8])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid camera id %q", fields[8])
		}
		name := fields[9]
		q := quat.Number{Real: vals[0], Imag: vals[1], Jmag: vals[2], Kmag: vals[3]}
		t := r3.Vector{X: vals[4], Y: vals[5], Z: vals[6]}
		images[name] = dataset.Image{CameraID: camID, Extrinsic: ExtrinsicFromPose(q, t)}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading image listing")
	}
	return images, nil
}

// modelLineFields splits a COLMAP model line into fields, reporting
// false for comments and blank lines.
func modelLineFields(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, false
	}
	return strings.Fields(line), true
}

// ExtrinsicFromPose builds the 4x4 world-to-camera transform from a
// rotation quaternion and translation as stored by COLMAP.
func ExtrinsicFromPose(q quat.Number, t r3.Vector) *mat.Dense {
	r := RotationMatrix(q)
	ext := mat.NewDense(4, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			ext.Set(row, col, r.At(row, col))
		}
	}
	ext.Set(0, 3, t.X)
	ext.Set(1, 3, t.Y)
	ext.Set(2, 3, t.Z)
	ext.Set(3, 3, 1)
	return ext
}

// RotationMatrix converts a unit quaternion into a 3x3 rotation matrix.
// The quaternion is normalized first so slightly denormalized inputs
// from text parsing still yield a proper rotation.
func RotationMatrix(q quat.Number) *mat.Dense {
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}
