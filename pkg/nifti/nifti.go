// Package nifti reads and writes volumetric images in the NIfTI-1
// single-file format (.nii, .nii.gz). Only the fields the combination
// pipeline needs are interpreted; the rest of the header is carried
// through verbatim so the output keeps the input's geometry metadata.
package nifti

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"mecombine/internal/models"
)

const (
	// headerSize is the fixed size of a NIfTI-1 header.
	headerSize = 348

	// dataOffset is where voxel data starts in the files we write:
	// the header plus the 4-byte extension flag.
	dataOffset = 352
)

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtUint16  = 512
)

// Read loads a NIfTI-1 volume from path, decompressing transparently
// when the file is gzipped.
func Read(path string) (*models.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	vol, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

// Decode parses a complete NIfTI-1 file image from memory.
func Decode(raw []byte) (*models.Volume, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("file too short for a NIfTI-1 header (%d bytes)", len(raw))
	}

	// The sizeof_hdr field doubles as an endianness probe: it must
	// decode to 348 in the byte order the file was written with.
	little := binary.LittleEndian.Uint32(raw[0:4]) == headerSize
	if !little && binary.BigEndian.Uint32(raw[0:4]) != headerSize {
		return nil, fmt.Errorf("not a NIfTI-1 file (bad sizeof_hdr)")
	}
	order := byteOrder(little)

	if magic := string(raw[344:347]); magic != "n+1" {
		return nil, fmt.Errorf("unsupported NIfTI magic %q (only single-file n+1 is supported)", magic)
	}

	var dim [8]int
	for i := range dim {
		dim[i] = int(int16(order.Uint16(raw[40+2*i : 42+2*i])))
	}
	ndim := dim[0]
	if ndim < 3 || ndim > 7 {
		return nil, fmt.Errorf("unsupported dimensionality %d", ndim)
	}
	for i := 5; i <= ndim; i++ {
		if dim[i] > 1 {
			return nil, fmt.Errorf("unsupported dimensionality: dim[%d]=%d", i, dim[i])
		}
	}
	nx, ny, nz := dim[1], dim[2], dim[3]
	nt := 0
	if ndim >= 4 {
		nt = dim[4]
	}
	if nx <= 0 || ny <= 0 || nz <= 0 || (ndim >= 4 && nt <= 0) {
		return nil, fmt.Errorf("invalid dimensions %v", dim[1:ndim+1])
	}

	datatype := int(int16(order.Uint16(raw[70:72])))
	bitpix := int(int16(order.Uint16(raw[72:74])))
	var elemSize int
	switch datatype {
	case dtUint8:
		elemSize = 1
	case dtInt16, dtUint16:
		elemSize = 2
	case dtInt32, dtFloat32:
		elemSize = 4
	case dtFloat64:
		elemSize = 8
	default:
		return nil, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
	// The two fields are redundant; a file where they disagree is
	// corrupt, and trusting either one alone would let the other
	// index past the payload.
	if bitpix != 8*elemSize {
		return nil, fmt.Errorf("bitpix %d does not match datatype %d", bitpix, datatype)
	}

	voxOffset := int(math.Float32frombits(order.Uint32(raw[108:112])))
	if voxOffset < headerSize {
		voxOffset = dataOffset
	}

	// nibabel-style scaling: slope 0 means unscaled.
	slope := float64(math.Float32frombits(order.Uint32(raw[112:116])))
	inter := float64(math.Float32frombits(order.Uint32(raw[116:120])))
	if slope == 0 {
		slope, inter = 1, 0
	}

	n := nx * ny * nz
	if nt > 0 {
		n *= nt
	}
	need := voxOffset + n*elemSize
	if len(raw) < need {
		return nil, fmt.Errorf("truncated voxel data: have %d bytes, need %d", len(raw), need)
	}
	payload := raw[voxOffset:]

	data := make([]float64, n)
	switch datatype {
	case dtUint8:
		for i := 0; i < n; i++ {
			data[i] = float64(payload[i])*slope + inter
		}
	case dtInt16:
		for i := 0; i < n; i++ {
			data[i] = float64(int16(order.Uint16(payload[2*i:])))*slope + inter
		}
	case dtUint16:
		for i := 0; i < n; i++ {
			data[i] = float64(order.Uint16(payload[2*i:]))*slope + inter
		}
	case dtInt32:
		for i := 0; i < n; i++ {
			data[i] = float64(int32(order.Uint32(payload[4*i:])))*slope + inter
		}
	case dtFloat32:
		for i := 0; i < n; i++ {
			data[i] = float64(math.Float32frombits(order.Uint32(payload[4*i:])))*slope + inter
		}
	case dtFloat64:
		for i := 0; i < n; i++ {
			data[i] = math.Float64frombits(order.Uint64(payload[8*i:]))*slope + inter
		}
	}

	hdr := make([]byte, headerSize)
	copy(hdr, raw[:headerSize])

	return &models.Volume{
		Data: data,
		Nx:   nx, Ny: ny, Nz: nz, Nt: nt,
		Header: models.Header{Raw: hdr, LittleEndian: little},
	}, nil
}

// Write stores vol at path as a single-file NIfTI-1 image, gzipping
// when the path ends in .gz. Voxel data is encoded as float32 with
// identity scaling; all other header fields come from the volume's
// stored header (or a default header for in-memory volumes).
func Write(path string, vol *models.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write(Encode(vol)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// Encode serializes vol into a complete NIfTI-1 file image.
func Encode(vol *models.Volume) []byte {
	little := true
	hdr := make([]byte, dataOffset)
	if len(vol.Header.Raw) >= headerSize {
		copy(hdr, vol.Header.Raw[:headerSize])
		little = vol.Header.LittleEndian
	} else {
		fillDefaultHeader(hdr)
	}
	order := byteOrder(little)

	// Patch the fields this writer owns; everything else survives
	// from the source header.
	ndim := 3
	if vol.Is4D() {
		ndim = 4
	}
	dim := [8]int{ndim, vol.Nx, vol.Ny, vol.Nz, 1, 1, 1, 1}
	if vol.Is4D() {
		dim[4] = vol.Nt
	}
	for i, d := range dim {
		order.PutUint16(hdr[40+2*i:], uint16(int16(d)))
	}
	order.PutUint16(hdr[70:], dtFloat32)
	order.PutUint16(hdr[72:], 32)
	order.PutUint32(hdr[108:], math.Float32bits(dataOffset))
	order.PutUint32(hdr[112:], math.Float32bits(1)) // scl_slope
	order.PutUint32(hdr[116:], math.Float32bits(0)) // scl_inter
	copy(hdr[344:348], "n+1\x00")

	// Extension flag: no extensions follow the header.
	for i := headerSize; i < dataOffset; i++ {
		hdr[i] = 0
	}

	out := make([]byte, dataOffset+4*len(vol.Data))
	copy(out, hdr)
	for i, v := range vol.Data {
		order.PutUint32(out[dataOffset+4*i:], math.Float32bits(float32(v)))
	}
	return out
}

// fillDefaultHeader initializes a minimal little-endian header with
// unit voxels and an identity orientation, for volumes created in
// memory rather than loaded from a file.
func fillDefaultHeader(hdr []byte) {
	order := binary.LittleEndian
	order.PutUint32(hdr[0:], headerSize)
	for i := 0; i < 8; i++ {
		order.PutUint32(hdr[76+4*i:], math.Float32bits(1)) // pixdim
	}
	order.PutUint16(hdr[252:], 0) // qform_code
	order.PutUint16(hdr[254:], 1) // sform_code
	for i := 0; i < 3; i++ {
		row := hdr[280+16*i:]
		for j := 0; j < 4; j++ {
			v := float32(0)
			if i == j {
				v = 1
			}
			order.PutUint32(row[4*j:], math.Float32bits(v))
		}
	}
	copy(hdr[344:348], "n+1\x00")
}

func byteOrder(little bool) binary.ByteOrder {
	if little {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
