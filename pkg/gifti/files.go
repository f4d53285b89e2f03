package gifti

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
)

// Surface is a triangulated mesh read from a .surf.gii file.
type Surface struct {
	Points    [][3]float64
	Triangles [][3]int
}

// Metric returns the image as columns of per-vertex values. A document with
// one vector array per column (the layout written by cifti-separate) and a
// single 2-D vertex x column array are both accepted.
func (img *Image) Metric() ([][]float64, error) {
	if len(img.Arrays) == 0 {
		return nil, ErrNoArrays
	}

	if len(img.Arrays) == 1 && len(img.Arrays[0].Dims) == 2 {
		a := img.Arrays[0]
		rows, cols := a.Rows(), a.Cols()
		out := make([][]float64, cols)
		for c := range out {
			out[c] = make([]float64, rows)
			for r := 0; r < rows; r++ {
				out[c][r] = a.Values[r*cols+c]
			}
		}
		return out, nil
	}

	n := img.Arrays[0].Rows()
	out := make([][]float64, len(img.Arrays))
	for i, a := range img.Arrays {
		if a.Rows() != n || a.Cols() != 1 {
			return nil, fmt.Errorf("%w: metric column %d has dims %v", ErrShape, i, a.Dims)
		}
		out[i] = a.Values
	}
	return out, nil
}

// Labels returns the first array as integer keys.
func (img *Image) Labels() ([]int, error) {
	if len(img.Arrays) == 0 {
		return nil, ErrNoArrays
	}
	return img.Arrays[0].Ints(), nil
}

// Surface extracts the pointset and triangle arrays.
func (img *Image) Surface() (*Surface, error) {
	var points, tris *DataArray
	for i := range img.Arrays {
		switch img.Arrays[i].Intent {
		case IntentPointSet:
			points = &img.Arrays[i]
		case IntentTriangle:
			tris = &img.Arrays[i]
		}
	}
	if points == nil || tris == nil {
		return nil, fmt.Errorf("gifti: surface needs %s and %s arrays", IntentPointSet, IntentTriangle)
	}
	if points.Cols() != 3 || tris.Cols() != 3 {
		return nil, fmt.Errorf("%w: pointset %v, triangles %v", ErrShape, points.Dims, tris.Dims)
	}

	s := &Surface{
		Points:    make([][3]float64, points.Rows()),
		Triangles: make([][3]int, tris.Rows()),
	}
	for i := range s.Points {
		copy(s.Points[i][:], points.Values[i*3:i*3+3])
	}
	ids := tris.Ints()
	for i := range s.Triangles {
		copy(s.Triangles[i][:], ids[i*3:i*3+3])
		for _, v := range s.Triangles[i] {
			if v < 0 || v >= len(s.Points) {
				return nil, fmt.Errorf("gifti: triangle %d references vertex %d of %d", i, v, len(s.Points))
			}
		}
	}
	return s, nil
}

// ReadMetric reads a .func.gii/.shape.gii file as columns of per-vertex values.
func ReadMetric(path string) ([][]float64, error) {
	img, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return img.Metric()
}

// ReadLabel reads the keys of a .label.gii file.
func ReadLabel(path string) ([]int, error) {
	img, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return img.Labels()
}

// ReadSurface reads a .surf.gii file.
func ReadSurface(path string) (*Surface, error) {
	img, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return img.Surface()
}

// Encode writes img as GIFTI XML using the given binary encoding
// (EncodingBase64 or EncodingGZipBase64); ASCII is also accepted.
func Encode(w io.Writer, img *Image, encoding string) error {
	doc := xmlGIFTI{
		Version:            "1.0",
		NumberOfDataArrays: len(img.Arrays),
	}
	for i, a := range img.Arrays {
		xa, err := encodeArray(a, encoding)
		if err != nil {
			return fmt.Errorf("gifti: data array %d: %w", i, err)
		}
		doc.Arrays = append(doc.Arrays, xa)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("gifti: encode xml: %w", err)
	}
	return enc.Flush()
}

func encodeArray(a DataArray, encoding string) (xmlDataArray, error) {
	xa := xmlDataArray{
		Intent:             a.Intent,
		DataType:           a.DataType,
		ArrayIndexingOrder: "RowMajorOrder",
		Dimensionality:     len(a.Dims),
		Encoding:           encoding,
		Endian:             "LittleEndian",
	}
	if len(a.Dims) > 0 {
		xa.Dim0 = a.Dims[0]
	}
	if len(a.Dims) > 1 {
		xa.Dim1 = a.Dims[1]
	}
	if len(a.Dims) > 2 {
		xa.Dim2 = a.Dims[2]
	}

	if encoding == EncodingASCII {
		var buf bytes.Buffer
		for i, v := range a.Values {
			if i > 0 {
				buf.WriteByte(' ')
			}
			fmt.Fprintf(&buf, "%g", v)
		}
		xa.Data = buf.String()
		return xa, nil
	}

	size, err := typeSize(a.DataType)
	if err != nil {
		return xa, err
	}
	raw := make([]byte, len(a.Values)*size)
	for i, v := range a.Values {
		b := raw[i*size : (i+1)*size]
		switch a.DataType {
		case TypeUint8:
			b[0] = uint8(v)
		case TypeInt32:
			binary.LittleEndian.PutUint32(b, uint32(int32(math.Round(v))))
		case TypeFloat32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		case TypeFloat64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		}
	}

	switch encoding {
	case EncodingBase64:
	case EncodingGZipBase64:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return xa, err
		}
		if err := zw.Close(); err != nil {
			return xa, err
		}
		raw = buf.Bytes()
	default:
		return xa, fmt.Errorf("unsupported encoding %q", encoding)
	}
	xa.Data = base64.StdEncoding.EncodeToString(raw)
	return xa, nil
}

// MetricImage builds a float32 metric image with one array per column.
func MetricImage(columns [][]float64) *Image {
	img := &Image{}
	for _, col := range columns {
		img.Arrays = append(img.Arrays, DataArray{
			Intent:   IntentNone,
			DataType: TypeFloat32,
			Dims:     []int{len(col)},
			Values:   col,
		})
	}
	return img
}

// LabelImage builds an int32 label image.
func LabelImage(keys []int) *Image {
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = float64(k)
	}
	return &Image{Arrays: []DataArray{{
		Intent:   IntentLabel,
		DataType: TypeInt32,
		Dims:     []int{len(keys)},
		Values:   values,
	}}}
}

// SurfaceImage builds a pointset + triangle image.
func SurfaceImage(s *Surface) *Image {
	pts := make([]float64, 0, len(s.Points)*3)
	for _, p := range s.Points {
		pts = append(pts, p[:]...)
	}
	tris := make([]float64, 0, len(s.Triangles)*3)
	for _, t := range s.Triangles {
		tris = append(tris, float64(t[0]), float64(t[1]), float64(t[2]))
	}
	return &Image{Arrays: []DataArray{
		{Intent: IntentPointSet, DataType: TypeFloat32, Dims: []int{len(s.Points), 3}, Values: pts},
		{Intent: IntentTriangle, DataType: TypeInt32, Dims: []int{len(s.Triangles), 3}, Values: tris},
	}}
}

// WriteFile encodes img to path with GZipBase64Binary encoding.
func WriteFile(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img, EncodingGZipBase64); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
