// Package gifti reads and writes the subset of the GIFTI surface format
// exchanged with the geometry tool: metric, label and surface files.
//
// A GIFTI file is an XML document holding one or more DataArray elements.
// Each array carries its element type, shape and an encoding of the raw
// values (ASCII, Base64Binary or GZipBase64Binary). Values are decoded into
// float64 regardless of the on-disk type; integer intents (labels, triangles)
// are converted back with Ints.
package gifti

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Intents used by pintsurf.
const (
	IntentNone       = "NIFTI_INTENT_NONE"
	IntentLabel      = "NIFTI_INTENT_LABEL"
	IntentPointSet   = "NIFTI_INTENT_POINTSET"
	IntentTriangle   = "NIFTI_INTENT_TRIANGLE"
	IntentTimeSeries = "NIFTI_INTENT_TIME_SERIES"
)

// Data types.
const (
	TypeUint8   = "NIFTI_TYPE_UINT8"
	TypeInt32   = "NIFTI_TYPE_INT32"
	TypeFloat32 = "NIFTI_TYPE_FLOAT32"
	TypeFloat64 = "NIFTI_TYPE_FLOAT64"
)

// Encodings.
const (
	EncodingASCII      = "ASCII"
	EncodingBase64     = "Base64Binary"
	EncodingGZipBase64 = "GZipBase64Binary"
)

var (
	// ErrNoArrays is returned for documents without any DataArray.
	ErrNoArrays = errors.New("gifti: no data arrays")

	// ErrShape is returned when array sizes disagree with their dimensions.
	ErrShape = errors.New("gifti: data does not match declared dimensions")
)

// DataArray is one decoded GIFTI data array.
type DataArray struct {
	Intent   string
	DataType string

	// Dims holds Dim0..DimN-1. Values are stored row-major.
	Dims   []int
	Values []float64
}

// Rows returns Dim0.
func (a *DataArray) Rows() int {
	if len(a.Dims) == 0 {
		return 0
	}
	return a.Dims[0]
}

// Cols returns the product of the trailing dimensions (1 for vectors).
func (a *DataArray) Cols() int {
	c := 1
	for _, d := range a.Dims[1:] {
		c *= d
	}
	return c
}

// Ints returns the values rounded to integers.
func (a *DataArray) Ints() []int {
	out := make([]int, len(a.Values))
	for i, v := range a.Values {
		out[i] = int(math.Round(v))
	}
	return out
}

// Image is a decoded GIFTI document.
type Image struct {
	Arrays []DataArray
}

type xmlGIFTI struct {
	XMLName            xml.Name       `xml:"GIFTI"`
	Version            string         `xml:"Version,attr"`
	NumberOfDataArrays int            `xml:"NumberOfDataArrays,attr"`
	Arrays             []xmlDataArray `xml:"DataArray"`
}

type xmlDataArray struct {
	Intent             string `xml:"Intent,attr"`
	DataType           string `xml:"DataType,attr"`
	ArrayIndexingOrder string `xml:"ArrayIndexingOrder,attr"`
	Dimensionality     int    `xml:"Dimensionality,attr"`
	Dim0               int    `xml:"Dim0,attr"`
	Dim1               int    `xml:"Dim1,attr,omitempty"`
	Dim2               int    `xml:"Dim2,attr,omitempty"`
	Encoding           string `xml:"Encoding,attr"`
	Endian             string `xml:"Endian,attr"`
	ExternalFileName   string `xml:"ExternalFileName,attr"`
	ExternalFileOffset string `xml:"ExternalFileOffset,attr"`
	Data               string `xml:"Data"`
}

// ReadFile decodes the GIFTI document at path.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode parses a GIFTI document.
func Decode(r io.Reader) (*Image, error) {
	var doc xmlGIFTI
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("gifti: parse xml: %w", err)
	}
	if len(doc.Arrays) == 0 {
		return nil, ErrNoArrays
	}

	img := &Image{Arrays: make([]DataArray, 0, len(doc.Arrays))}
	for i, xa := range doc.Arrays {
		da, err := decodeArray(xa)
		if err != nil {
			return nil, fmt.Errorf("gifti: data array %d: %w", i, err)
		}
		img.Arrays = append(img.Arrays, da)
	}
	return img, nil
}

func decodeArray(xa xmlDataArray) (DataArray, error) {
	if xa.ExternalFileName != "" {
		return DataArray{}, fmt.Errorf("external data file %q not supported", xa.ExternalFileName)
	}

	dims := []int{xa.Dim0}
	if xa.Dimensionality >= 2 {
		dims = append(dims, xa.Dim1)
	}
	if xa.Dimensionality >= 3 {
		dims = append(dims, xa.Dim2)
	}
	n := 1
	for _, d := range dims {
		n *= d
	}

	var values []float64
	var err error
	switch xa.Encoding {
	case EncodingASCII:
		values, err = decodeASCII(xa.Data)
	case EncodingBase64, EncodingGZipBase64:
		values, err = decodeBinary(xa)
	default:
		return DataArray{}, fmt.Errorf("unsupported encoding %q", xa.Encoding)
	}
	if err != nil {
		return DataArray{}, err
	}
	if len(values) != n {
		return DataArray{}, fmt.Errorf("%w: got %d values for dims %v", ErrShape, len(values), dims)
	}

	if len(dims) == 2 && xa.ArrayIndexingOrder == "ColumnMajorOrder" {
		values = transpose(values, dims[1], dims[0])
	}

	return DataArray{Intent: xa.Intent, DataType: xa.DataType, Dims: dims, Values: values}, nil
}

func decodeASCII(data string) ([]float64, error) {
	fields := strings.Fields(data)
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("ascii value %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func decodeBinary(xa xmlDataArray) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(xa.Data), ""))
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}

	if xa.Encoding == EncodingGZipBase64 {
		raw, err = inflate(raw)
		if err != nil {
			return nil, err
		}
	}

	var order binary.ByteOrder = binary.LittleEndian
	if xa.Endian == "BigEndian" {
		order = binary.BigEndian
	}

	size, err := typeSize(xa.DataType)
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrShape, len(raw), size)
	}

	values := make([]float64, len(raw)/size)
	for i := range values {
		b := raw[i*size : (i+1)*size]
		switch xa.DataType {
		case TypeUint8:
			values[i] = float64(b[0])
		case TypeInt32:
			values[i] = float64(int32(order.Uint32(b)))
		case TypeFloat32:
			values[i] = float64(math.Float32frombits(order.Uint32(b)))
		case TypeFloat64:
			values[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return values, nil
}

// inflate accepts both zlib streams (what the format specifies) and gzip
// streams written by some tools.
func inflate(raw []byte) ([]byte, error) {
	var rc io.ReadCloser
	var err error
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		rc, err = gzip.NewReader(bytes.NewReader(raw))
	} else {
		rc, err = zlib.NewReader(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func typeSize(dataType string) (int, error) {
	switch dataType {
	case TypeUint8:
		return 1, nil
	case TypeInt32, TypeFloat32:
		return 4, nil
	case TypeFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported data type %q", dataType)
}

// transpose converts a column-major rows x cols buffer to row-major.
func transpose(values []float64, cols, rows int) []float64 {
	out := make([]float64, len(values))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = values[c*rows+r]
		}
	}
	return out
}
