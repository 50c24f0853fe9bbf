// Package testhelper provides scaffolding and fixtures for testing the
// reconstruction service and its parsers.
package testhelper

import (
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/reconviz/reconviz"
	"github.com/reconviz/reconviz/camera"
	"github.com/reconviz/reconviz/dataset"
)

// CreateTempFolderArchitecture creates a random temporary directory
// with the image, output, and results subdirectories a reconstruction
// run needs, returning a validated config rooted there.
func CreateTempFolderArchitecture(logger golog.Logger) (*reconviz.Config, string, error) {
	tmpDir, err := os.MkdirTemp("", "*")
	if err != nil {
		return nil, "", err
	}
	imageDir := filepath.Join(tmpDir, "images")
	if err := os.Mkdir(imageDir, os.ModePerm); err != nil {
		return nil, "", err
	}
	cfg := &reconviz.Config{
		ImageDirectory:  imageDir,
		OutputDirectory: filepath.Join(tmpDir, "output"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	if err := reconviz.SetupDirectories(cfg, logger); err != nil {
		return nil, "", err
	}
	return cfg, tmpDir, nil
}

// ResetFolder removes all content in path and creates a new directory
// in its place.
func ResetFolder(path string) error {
	dirInfo, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("the path passed ResetFolder does not point to a folder: %v", path)
	}
	if err = os.RemoveAll(path); err != nil {
		return err
	}
	return os.Mkdir(path, dirInfo.Mode())
}

// IdentityExtrinsic returns a 4x4 identity pose.
func IdentityExtrinsic() *mat.Dense {
	ext := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		ext.Set(i, i, 1)
	}
	return ext
}

// NewTestDataset builds a small deterministic dataset: three points in
// front of the origin camera, one camera, and one identity-pose image.
func NewTestDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Points: []r3.Vector{
			{X: 0, Y: 0, Z: 5},
			{X: 1, Y: -1, Z: 4},
			{X: -0.5, Y: 0.5, Z: 6},
		},
		Colors: [][3]float64{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
		},
		Mesh: &dataset.Mesh{
			Vertices: []r3.Vector{
				{X: 0, Y: 0, Z: 5},
				{X: 1, Y: 0, Z: 5},
				{X: 0, Y: 1, Z: 5},
			},
			Triangles: [][3]int{{0, 1, 2}},
		},
		Cameras: map[int]camera.Camera{
			1: {ModelID: camera.Pinhole, Width: 640, Height: 480, Params: []float64{1000, 1000, 320, 240}},
		},
		Images: map[string]dataset.Image{
			"view1.png": {CameraID: 1, Extrinsic: IdentityExtrinsic()},
		},
	}
}

const camerasFixture = `# Camera list with one line of data per camera:
#   CAMERA_ID, MODEL, WIDTH, HEIGHT, PARAMS[]
# Number of cameras: 2
1 PINHOLE 640 480 1000 1000 320 240
2 SIMPLE_RADIAL 800 600 900 400 300 0.05
`

const imagesFixture = `# Image list with two lines of data per image:
#   IMAGE_ID, QW, QX, QY, QZ, TX, TY, TZ, CAMERA_ID, NAME
#   POINTS2D[] as (X, Y, POINT3D_ID)
1 1 0 0 0 0 0 0 1 view1.png
10.5 20.25 1 30 40 -1
2 0.7071067811865476 0 0.7071067811865476 0 0.5 -0.25 2 2 view2.png

`

// WriteSparseModelFixture writes a two-camera, two-image COLMAP text
// model under sparseDir/0 and returns the model directory.
func WriteSparseModelFixture(sparseDir string) (string, error) {
	modelDir := filepath.Join(sparseDir, "0")
	if err := os.MkdirAll(modelDir, os.ModePerm); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(modelDir, "cameras.txt"), []byte(camerasFixture), 0o644); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(modelDir, "images.txt"), []byte(imagesFixture), 0o644); err != nil {
		return "", err
	}
	return modelDir, nil
}

const fusedPLYFixture = `ply
format ascii 1.0
comment fused point cloud
element vertex 3
property float x
property float y
property float z
property uchar red
property uchar green
property uchar blue
end_header
0 0 5 255 0 0
1 -1 4 0 255 0
-0.5 0.5 6 0 0 255
`

const meshedPLYFixture = `ply
format ascii 1.0
element vertex 3
property float x
property float y
property float z
element face 1
property list uchar int vertex_indices
end_header
0 0 5
1 0 5
0 1 5
3 0 1 2
`

// WriteDensePLYFixtures writes an ascii fused point cloud and mesh into
// denseDir.
func WriteDensePLYFixtures(denseDir string) error {
	if err := os.MkdirAll(denseDir, os.ModePerm); err != nil {
		return err
	}
	fused := filepath.Join(denseDir, "fused.ply")
	if err := os.WriteFile(fused, []byte(fusedPLYFixture), 0o644); err != nil {
		return err
	}
	meshed := filepath.Join(denseDir, "meshed.ply")
	return os.WriteFile(meshed, []byte(meshedPLYFixture), 0o644)
}
