package colmap

import (
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/reconviz/reconviz/dataset"
)

const (
	// FusedPointCloudName is the dense point cloud COLMAP's stereo
	// fusion writes into the dense workspace.
	FusedPointCloudName = "fused.ply"
	// MeshedModelName is the Poisson mesher output.
	MeshedModelName = "meshed.ply"
)

// BuildDataset assembles a reconstruction dataset from a COLMAP run's
// sparse and dense output directories. The fused point cloud and the
// sparse model are required; a missing or unreadable mesh only costs the
// mesh, matching how downstream viewers treat it as optional.
func BuildDataset(sparseDir, denseDir string, logger golog.Logger) (*dataset.Dataset, error) {
	modelDir, err := LatestModelDir(sparseDir)
	if err != nil {
		return nil, err
	}
	cams, images, err := ReadSparseModel(modelDir)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing sparse model %s", modelDir)
	}

	fusedPath := filepath.Join(denseDir, FusedPointCloudName)
	cloud, err := ReadPLY(fusedPath, logger)
	if err != nil {
		return nil, errors.Wrap(err, "reading fused point cloud")
	}

	d := &dataset.Dataset{
		Points:  cloud.Vertices,
		Colors:  cloud.Colors,
		Cameras: cams,
		Images:  images,
	}
	if d.Colors == nil {
		d.Colors = make([][3]float64, len(d.Points))
		for i := range d.Colors {
			d.Colors[i] = dataset.DefaultColor
		}
	}

	meshedPath := filepath.Join(denseDir, MeshedModelName)
	if _, err := os.Stat(meshedPath); err == nil {
		meshed, err := ReadPLY(meshedPath, logger)
		if err != nil {
			logger.Errorw("unable to read mesh, continuing without it", "path", meshedPath, "error", err)
		} else {
			d.Mesh = &dataset.Mesh{
				Vertices:     meshed.Vertices,
				Triangles:    meshed.Faces,
				VertexColors: meshed.Colors,
			}
			if d.Mesh.Triangles == nil {
				d.Mesh.Triangles = [][3]int{}
			}
		}
	} else {
		logger.Debugf("no mesh found at %s", meshedPath)
	}

	logger.Infof("built dataset: %d points, %d cameras, %d images, mesh=%v",
		len(d.Points), len(d.Cameras), len(d.Images), d.Mesh != nil)
	return d, nil
}
