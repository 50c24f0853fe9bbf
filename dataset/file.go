package dataset

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/reconviz/reconviz/camera"
)

// DatasetLoadError wraps whatever went wrong while reading the
// interchange container.
type DatasetLoadError struct {
	Path  string
	Cause error
}

func (e *DatasetLoadError) Error() string {
	return fmt.Sprintf("loading dataset %s: %v", e.Path, e.Cause)
}

func (e *DatasetLoadError) Unwrap() error { return e.Cause }

// container is the on-disk shape of the interchange file: a
// gzip-compressed JSON object keyed like the arrays the pipeline emits.
// Nil slices and maps after decoding mean the key was absent.
type container struct {
	Points       [][3]float64              `json:"points"`
	Colors       [][3]float64              `json:"colors,omitempty"`
	Vertices     [][3]float64              `json:"vertices,omitempty"`
	Triangles    [][3]int                  `json:"triangles,omitempty"`
	VertexColors [][3]float64              `json:"vertex_colors,omitempty"`
	Cameras      map[int]containerCamera   `json:"cameras"`
	Images       map[string]containerImage `json:"images"`
}

type containerCamera struct {
	Model  int       `json:"model"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Params []float64 `json:"params"`
}

type containerImage struct {
	CameraID  int           `json:"camera_id"`
	Extrinsic [4][4]float64 `json:"extrinsic"`
}

// Load reads a reconstruction dataset from the interchange container at
// path. Absent mesh keys are legitimate and leave Mesh nil; absent
// colors are defaulted to mid-gray. Missing points, cameras, or images
// is fatal.
func Load(path string, logger golog.Logger) (_ *Dataset, err error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, &DatasetLoadError{Path: path, Cause: err}
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, &DatasetLoadError{Path: path, Cause: errors.Wrap(err, "not a gzip container")}
	}
	defer goutils.UncheckedErrorFunc(gz.Close)

	var c container
	if err := json.NewDecoder(gz).Decode(&c); err != nil {
		return nil, &DatasetLoadError{Path: path, Cause: errors.Wrap(err, "malformed container")}
	}

	d, err := fromContainer(&c)
	if err != nil {
		return nil, &DatasetLoadError{Path: path, Cause: err}
	}
	logger.Debugf("loaded dataset from %s: %d points, %d cameras, %d images, mesh=%v",
		path, len(d.Points), len(d.Cameras), len(d.Images), d.Mesh != nil)
	return d, nil
}

func fromContainer(c *container) (*Dataset, error) {
	if c.Points == nil {
		return nil, errors.New(`missing required key "points"`)
	}
	if c.Cameras == nil {
		return nil, errors.New(`missing required key "cameras"`)
	}
	if c.Images == nil {
		return nil, errors.New(`missing required key "images"`)
	}

	d := &Dataset{
		Points:  make([]r3.Vector, len(c.Points)),
		Cameras: make(map[int]camera.Camera, len(c.Cameras)),
		Images:  make(map[string]Image, len(c.Images)),
	}
	for i, p := range c.Points {
		d.Points[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}

	switch {
	case c.Colors == nil:
		d.Colors = make([][3]float64, len(d.Points))
		for i := range d.Colors {
			d.Colors[i] = DefaultColor
		}
	case len(c.Colors) != len(c.Points):
		return nil, errors.Errorf("colors length %d does not match points length %d",
			len(c.Colors), len(c.Points))
	default:
		d.Colors = c.Colors
	}

	if c.Vertices != nil {
		mesh := &Mesh{
			Vertices:     make([]r3.Vector, len(c.Vertices)),
			Triangles:    c.Triangles,
			VertexColors: c.VertexColors,
		}
		for i, v := range c.Vertices {
			mesh.Vertices[i] = r3.Vector{X: v[0], Y: v[1], Z: v[2]}
		}
		if mesh.Triangles == nil {
			mesh.Triangles = [][3]int{}
		}
		for _, tri := range mesh.Triangles {
			for _, idx := range tri {
				if idx < 0 || idx >= len(mesh.Vertices) {
					return nil, errors.Errorf("triangle index %d out of range for %d vertices",
						idx, len(mesh.Vertices))
				}
			}
		}
		if mesh.VertexColors != nil && len(mesh.VertexColors) != len(mesh.Vertices) {
			return nil, errors.Errorf("vertex_colors length %d does not match vertices length %d",
				len(mesh.VertexColors), len(mesh.Vertices))
		}
		d.Mesh = mesh
	} else if c.Triangles != nil {
		return nil, errors.New(`"triangles" present without "vertices"`)
	}

	for id, cc := range c.Cameras {
		d.Cameras[id] = camera.Camera{
			ModelID: cc.Model,
			Width:   cc.Width,
			Height:  cc.Height,
			Params:  cc.Params,
		}
	}
	for name, ci := range c.Images {
		ext := mat.NewDense(4, 4, nil)
		for r := 0; r < 4; r++ {
			for col := 0; col < 4; col++ {
				ext.Set(r, col, ci.Extrinsic[r][col])
			}
		}
		d.Images[name] = Image{CameraID: ci.CameraID, Extrinsic: ext}
	}
	return d, nil
}

// Save writes the dataset out as a gzip-compressed JSON container.
func Save(d *Dataset, path string) (err error) {
	c := toContainer(d)

	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return errors.Wrap(err, "unable to create dataset container")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(c); err != nil {
		return errors.Wrap(err, "unable to encode dataset container")
	}
	return gz.Close()
}

func toContainer(d *Dataset) *container {
	c := &container{
		Points:  make([][3]float64, len(d.Points)),
		Colors:  d.Colors,
		Cameras: make(map[int]containerCamera, len(d.Cameras)),
		Images:  make(map[string]containerImage, len(d.Images)),
	}
	for i, p := range d.Points {
		c.Points[i] = [3]float64{p.X, p.Y, p.Z}
	}
	if d.Mesh != nil {
		c.Vertices = make([][3]float64, len(d.Mesh.Vertices))
		for i, v := range d.Mesh.Vertices {
			c.Vertices[i] = [3]float64{v.X, v.Y, v.Z}
		}
		c.Triangles = d.Mesh.Triangles
		c.VertexColors = d.Mesh.VertexColors
	}
	for id, cam := range d.Cameras {
		c.Cameras[id] = containerCamera{
			Model:  cam.ModelID,
			Width:  cam.Width,
			Height: cam.Height,
			Params: cam.Params,
		}
	}
	for name, img := range d.Images {
		var ext [4][4]float64
		for r := 0; r < 4; r++ {
			for col := 0; col < 4; col++ {
				ext[r][col] = img.Extrinsic.At(r, col)
			}
		}
		c.Images[name] = containerImage{CameraID: img.CameraID, Extrinsic: ext}
	}
	return c
}
