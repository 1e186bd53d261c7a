// Package nifti reads the NIfTI-1 header of converter output images.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const headerSize = 348

// Header is the fixed 348 byte NIfTI-1 header.
type Header struct {
	SizeOfHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QFormCode     int16
	SFormCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SRowX         [4]float32
	SRowY         [4]float32
	SRowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// ErrNotNIfTI is returned when the header size field is not 348 in either
// byte order.
var ErrNotNIfTI = errors.New("not a NIfTI-1 file")

// ReadHeader reads the header of a .nii or .nii.gz file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}
	h, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("read nifti header %s: %w", path, err)
	}
	return h, nil
}

// Decode reads a header from r, detecting the byte order.
func Decode(r io.Reader) (*Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		if int32(order.Uint32(buf[:4])) != headerSize {
			continue
		}
		var h Header
		if err := binary.Read(bytes.NewReader(buf), order, &h); err != nil {
			return nil, err
		}
		return &h, nil
	}
	return nil, ErrNotNIfTI
}

// Encode writes h in little-endian order.
func Encode(w io.Writer, h *Header) error {
	return binary.Write(w, binary.LittleEndian, h)
}

// Slices is the number of slices (third dimension).
func (h *Header) Slices() int {
	if h.Dim[0] < 3 {
		return 1
	}
	return int(h.Dim[3])
}

// Volumes is the number of time points.
func (h *Header) Volumes() int {
	if h.Dim[0] < 4 || h.Dim[4] < 1 {
		return 1
	}
	return int(h.Dim[4])
}

// RepetitionTime returns pixdim[4] in seconds, or 0 when unknown.
func (h *Header) RepetitionTime() float64 {
	tr := float64(h.PixDim[4])
	switch h.XYZTUnits & 0x38 {
	case 16: // msec
		return tr / 1000
	case 24: // usec
		return tr / 1e6
	default:
		return tr
	}
}
