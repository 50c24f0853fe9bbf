package dataset

import (
	"fmt"
	"io"

	"github.com/golang/geo/r3"
	"golang.org/x/exp/slices"
)

const (
	reportRule    = "================================================================================"
	sampleMaxRows = 10
)

// WriteReport writes a human-readable summary of the dataset: array
// sizes, per-axis bounding ranges, the centroid, the first few samples
// of each array, and the full camera and pose listings.
func WriteReport(w io.Writer, d *Dataset) error {
	pw := &printWriter{w: w}

	pw.printf("%s\n", reportRule)
	pw.printf("Reconstruction dataset report\n")
	pw.printf("%s\n\n", reportRule)

	pw.printf("Point cloud\n")
	pw.printf("  total points: %d\n", len(d.Points))
	if len(d.Points) > 0 {
		lo, hi := bounds(d.Points)
		c := centroid(d.Points)
		pw.printf("  X range: [%.4f, %.4f]\n", lo.X, hi.X)
		pw.printf("  Y range: [%.4f, %.4f]\n", lo.Y, hi.Y)
		pw.printf("  Z range: [%.4f, %.4f]\n", lo.Z, hi.Z)
		pw.printf("  centroid: [%.4f, %.4f, %.4f]\n", c.X, c.Y, c.Z)
		pw.printf("  first points (x, y, z):\n")
		for i, p := range d.Points[:sampleRows(len(d.Points))] {
			pw.printf("    %d: [%.6f, %.6f, %.6f]\n", i+1, p.X, p.Y, p.Z)
		}
	}

	pw.printf("\nColors\n")
	pw.printf("  total colors: %d\n", len(d.Colors))
	pw.printf("  first colors (r, g, b):\n")
	for i, c := range d.Colors[:sampleRows(len(d.Colors))] {
		pw.printf("    %d: [%.2f, %.2f, %.2f]\n", i+1, c[0], c[1], c[2])
	}

	if d.Mesh != nil {
		pw.printf("\nMesh\n")
		pw.printf("  vertices: %d\n", len(d.Mesh.Vertices))
		pw.printf("  triangles: %d\n", len(d.Mesh.Triangles))
		if len(d.Mesh.Vertices) > 0 {
			lo, hi := bounds(d.Mesh.Vertices)
			pw.printf("  X range: [%.4f, %.4f]\n", lo.X, hi.X)
			pw.printf("  Y range: [%.4f, %.4f]\n", lo.Y, hi.Y)
			pw.printf("  Z range: [%.4f, %.4f]\n", lo.Z, hi.Z)
			pw.printf("  first vertices (x, y, z):\n")
			for i, v := range d.Mesh.Vertices[:sampleRows(len(d.Mesh.Vertices))] {
				pw.printf("    %d: [%.6f, %.6f, %.6f]\n", i+1, v.X, v.Y, v.Z)
			}
		}
		pw.printf("  first triangles (vertex indices):\n")
		for i, t := range d.Mesh.Triangles[:sampleRows(len(d.Mesh.Triangles))] {
			pw.printf("    %d: [%d, %d, %d]\n", i+1, t[0], t[1], t[2])
		}
	} else {
		pw.printf("\nMesh\n  none\n")
	}

	pw.printf("\nCameras\n")
	pw.printf("  total cameras: %d\n", len(d.Cameras))
	camIDs := make([]int, 0, len(d.Cameras))
	for id := range d.Cameras {
		camIDs = append(camIDs, id)
	}
	slices.Sort(camIDs)
	for _, id := range camIDs {
		cam := d.Cameras[id]
		pw.printf("  camera %d:\n", id)
		pw.printf("    model: %d\n", cam.ModelID)
		pw.printf("    width: %d\n", cam.Width)
		pw.printf("    height: %d\n", cam.Height)
		pw.printf("    params: %v\n", cam.Params)
	}

	pw.printf("\nImages\n")
	pw.printf("  total images: %d\n", len(d.Images))
	names := make([]string, 0, len(d.Images))
	for name := range d.Images {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		img := d.Images[name]
		pw.printf("  image %q:\n", name)
		pw.printf("    camera id: %d\n", img.CameraID)
		pw.printf("    extrinsic:\n")
		for r := 0; r < 4; r++ {
			pw.printf("      [%.6f, %.6f, %.6f, %.6f]\n",
				img.Extrinsic.At(r, 0), img.Extrinsic.At(r, 1),
				img.Extrinsic.At(r, 2), img.Extrinsic.At(r, 3))
		}
	}

	pw.printf("\n%s\n", reportRule)
	return pw.err
}

func sampleRows(n int) int {
	if n > sampleMaxRows {
		return sampleMaxRows
	}
	return n
}

func bounds(pts []r3.Vector) (lo, hi r3.Vector) {
	lo, hi = pts[0], pts[0]
	for _, p := range pts[1:] {
		lo = r3.Vector{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = r3.Vector{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	return lo, hi
}

func centroid(pts []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(pts)))
}

// printWriter remembers the first write error so the report body stays
// free of error plumbing.
type printWriter struct {
	w   io.Writer
	err error
}

func (pw *printWriter) printf(format string, args ...interface{}) {
	if pw.err != nil {
		return
	}
	_, pw.err = fmt.Fprintf(pw.w, format, args...)
}
