package colmap

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// PLY holds the geometry read from one PLY file. Colors is nil when the
// file carries no per-vertex colors; Faces is nil for pure point clouds.
type PLY struct {
	Vertices []r3.Vector
	Colors   [][3]float64
	Faces    [][3]int
}

type plyFormat int

const (
	plyAscii plyFormat = iota
	plyBinaryLE
)

type plyProperty struct {
	name     string
	typ      string
	isList   bool
	countTyp string
	itemTyp  string
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

// ReadPLY reads an ascii or binary_little_endian PLY file. Vertex
// positions are required; colors and triangular faces are picked up when
// present.
func ReadPLY(path string, logger golog.Logger) (_ *PLY, err error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "unable to open PLY file")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	in := bufio.NewReader(f)
	format, elements, err := readPLYHeader(in)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing PLY header of %s", path)
	}

	out := &PLY{}
	for _, elem := range elements {
		switch elem.name {
		case "vertex":
			if err := readPLYVertices(in, format, elem, out); err != nil {
				return nil, errors.Wrapf(err, "reading %d vertices from %s", elem.count, path)
			}
		case "face":
			if err := readPLYFaces(in, format, elem, out); err != nil {
				return nil, errors.Wrapf(err, "reading %d faces from %s", elem.count, path)
			}
		default:
			logger.Debugf("skipping PLY element %q (%d rows) in %s", elem.name, elem.count, path)
			if err := skipPLYElement(in, format, elem); err != nil {
				return nil, errors.Wrapf(err, "skipping PLY element %q in %s", elem.name, path)
			}
		}
	}
	if out.Vertices == nil {
		return nil, errors.Errorf("PLY file %s has no vertex element", path)
	}
	return out, nil
}

func readPLYHeader(in *bufio.Reader) (plyFormat, []plyElement, error) {
	line, err := in.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	if strings.TrimSpace(line) != "ply" {
		return 0, nil, errors.New("missing ply magic")
	}

	format := plyAscii
	var elements []plyElement
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return 0, nil, errors.New("malformed format line")
			}
			switch fields[1] {
			case "ascii":
				format = plyAscii
			case "binary_little_endian":
				format = plyBinaryLE
			default:
				return 0, nil, errors.Errorf("unsupported PLY format %q", fields[1])
			}
		case "element":
			if len(fields) != 3 {
				return 0, nil, errors.New("malformed element line")
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil {
				return 0, nil, errors.Wrapf(err, "invalid element count %q", fields[2])
			}
			elements = append(elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(elements) == 0 {
				return 0, nil, errors.New("property before any element")
			}
			elem := &elements[len(elements)-1]
			switch {
			case len(fields) == 5 && fields[1] == "list":
				elem.props = append(elem.props, plyProperty{
					name: fields[4], isList: true, countTyp: fields[2], itemTyp: fields[3],
				})
			case len(fields) == 3:
				elem.props = append(elem.props, plyProperty{name: fields[2], typ: fields[1]})
			default:
				return 0, nil, errors.Errorf("malformed property line %q", strings.TrimSpace(line))
			}
		case "end_header":
			return format, elements, nil
		default:
			return 0, nil, errors.Errorf("unexpected header line %q", strings.TrimSpace(line))
		}
	}
}

func plyTypeSize(typ string) (int, error) {
	switch typ {
	case "char", "int8", "uchar", "uint8":
		return 1, nil
	case "short", "int16", "ushort", "uint16":
		return 2, nil
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4, nil
	case "double", "float64":
		return 8, nil
	default:
		return 0, errors.Errorf("unsupported PLY property type %q", typ)
	}
}

// readPLYValue reads one scalar property as a float64 regardless of its
// storage type.
func readPLYValue(in io.Reader, typ string) (float64, error) {
	size, err := plyTypeSize(typ)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(in, buf); err != nil {
		return 0, err
	}
	switch typ {
	case "char", "int8":
		return float64(int8(buf[0])), nil
	case "uchar", "uint8":
		return float64(buf[0]), nil
	case "short", "int16":
		return float64(int16(binary.LittleEndian.Uint16(buf))), nil
	case "ushort", "uint16":
		return float64(binary.LittleEndian.Uint16(buf)), nil
	case "int", "int32":
		return float64(int32(binary.LittleEndian.Uint32(buf))), nil
	case "uint", "uint32":
		return float64(binary.LittleEndian.Uint32(buf)), nil
	case "float", "float32":
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))), nil
	default: // double, float64
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), nil
	}
}

// colorScale returns the factor that maps a stored color channel into
// [0,1]; integer channels are stored as 0-255.
func colorScale(typ string) float64 {
	if typ == "float" || typ == "float32" || typ == "double" || typ == "float64" {
		return 1
	}
	return 1.0 / 255.0
}

func asciiRowFields(in *bufio.Reader) ([]string, error) {
	for {
		line, err := in.ReadString('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func readPLYVertices(in *bufio.Reader, format plyFormat, elem plyElement, out *PLY) error {
	idx := map[string]int{}
	for i, p := range elem.props {
		if p.isList {
			return errors.Errorf("unexpected list property %q on vertex element", p.name)
		}
		idx[p.name] = i
	}
	for _, required := range []string{"x", "y", "z"} {
		if _, ok := idx[required]; !ok {
			return errors.Errorf("vertex element missing %q property", required)
		}
	}
	_, hasColor := idx["red"]

	out.Vertices = make([]r3.Vector, 0, elem.count)
	if hasColor {
		if _, ok := idx["green"]; !ok {
			return errors.New(`vertex element has "red" but no "green"`)
		}
		if _, ok := idx["blue"]; !ok {
			return errors.New(`vertex element has "red" but no "blue"`)
		}
		out.Colors = make([][3]float64, 0, elem.count)
	}

	row := make([]float64, len(elem.props))
	for i := 0; i < elem.count; i++ {
		if err := readPLYRow(in, format, elem, row); err != nil {
			return err
		}
		out.Vertices = append(out.Vertices, r3.Vector{
			X: row[idx["x"]], Y: row[idx["y"]], Z: row[idx["z"]],
		})
		if hasColor {
			scale := colorScale(elem.props[idx["red"]].typ)
			out.Colors = append(out.Colors, [3]float64{
				row[idx["red"]] * scale, row[idx["green"]] * scale, row[idx["blue"]] * scale,
			})
		}
	}
	return nil
}

func readPLYRow(in *bufio.Reader, format plyFormat, elem plyElement, row []float64) error {
	if format == plyAscii {
		fields, err := asciiRowFields(in)
		if err != nil {
			return err
		}
		if len(fields) != len(elem.props) {
			return errors.Errorf("row has %d values, expected %d", len(fields), len(elem.props))
		}
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid value %q", field)
			}
			row[i] = v
		}
		return nil
	}
	for i, p := range elem.props {
		v, err := readPLYValue(in, p.typ)
		if err != nil {
			return err
		}
		row[i] = v
	}
	return nil
}

func readPLYFaces(in *bufio.Reader, format plyFormat, elem plyElement, out *PLY) error {
	listIdx := -1
	for i, p := range elem.props {
		if p.isList {
			listIdx = i
			break
		}
	}
	if listIdx == -1 {
		return errors.New("face element has no index list property")
	}

	out.Faces = make([][3]int, 0, elem.count)
	for i := 0; i < elem.count; i++ {
		indices, err := readPLYFaceRow(in, format, elem, listIdx)
		if err != nil {
			return err
		}
		if len(indices) != 3 {
			return errors.Errorf("face has %d vertices, only triangles are supported", len(indices))
		}
		out.Faces = append(out.Faces, [3]int{indices[0], indices[1], indices[2]})
	}
	return nil
}

func readPLYFaceRow(in *bufio.Reader, format plyFormat, elem plyElement, listIdx int) ([]int, error) {
	if format == plyAscii {
		fields, err := asciiRowFields(in)
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid face vertex count %q", fields[0])
		}
		if len(fields) < 1+count {
			return nil, errors.Errorf("face row has %d values, expected %d", len(fields), 1+count)
		}
		indices := make([]int, count)
		for i := 0; i < count; i++ {
			indices[i], err = strconv.Atoi(fields[1+i])
			if err != nil {
				return nil, errors.Wrapf(err, "invalid face index %q", fields[1+i])
			}
		}
		return indices, nil
	}

	var indices []int
	for i, p := range elem.props {
		if i != listIdx {
			if _, err := readPLYValue(in, p.typ); err != nil {
				return nil, err
			}
			continue
		}
		count, err := readPLYValue(in, p.countTyp)
		if err != nil {
			return nil, err
		}
		indices = make([]int, int(count))
		for j := range indices {
			v, err := readPLYValue(in, p.itemTyp)
			if err != nil {
				return nil, err
			}
			indices[j] = int(v)
		}
	}
	return indices, nil
}

func skipPLYElement(in *bufio.Reader, format plyFormat, elem plyElement) error {
	for i := 0; i < elem.count; i++ {
		if format == plyAscii {
			if _, err := asciiRowFields(in); err != nil {
				return err
			}
			continue
		}
		for _, p := range elem.props {
			if !p.isList {
				if _, err := readPLYValue(in, p.typ); err != nil {
					return err
				}
				continue
			}
			count, err := readPLYValue(in, p.countTyp)
			if err != nil {
				return err
			}
			for j := 0; j < int(count); j++ {
				if _, err := readPLYValue(in, p.itemTyp); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
