package models

// Header carries the raw NIfTI-1 header of the file a volume was loaded
// from. The combination core treats it as opaque: it is captured at load
// time and handed back unchanged when the combined image is written, so
// that the output keeps the acquisition geometry (affine, pixdim, units)
// of the input echoes.
type Header struct {
	// Raw is the verbatim 348-byte NIfTI-1 header as read from disk.
	// Empty for volumes created in memory; the writer synthesizes a
	// default header in that case.
	Raw []byte

	// LittleEndian records the byte order the header (and payload) was
	// encoded with.
	LittleEndian bool
}

// Volume represents a 3D or 4D voxel array in NIfTI element order:
// x varies fastest, then y, then z, then the temporal axis.
type Volume struct {
	// Data is the voxel data as a 1D array. Its length is Nx*Ny*Nz for
	// 3D volumes and Nx*Ny*Nz*Nt for 4D volumes.
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels.
	Nx, Ny, Nz int

	// Nt is the number of temporal samples. Zero means the volume is
	// purely spatial (3D).
	Nt int

	// Header is the geometry metadata passed through to outputs.
	Header Header
}

// Is4D reports whether the volume has a temporal axis.
func (v *Volume) Is4D() bool {
	return v.Nt > 0
}

// SpatialLen returns the number of voxels in a single temporal sample.
func (v *Volume) SpatialLen() int {
	return v.Nx * v.Ny * v.Nz
}

// At returns the value at spatial index voxel (0..SpatialLen-1) and
// temporal sample t. For 3D volumes t must be 0.
func (v *Volume) At(voxel, t int) float64 {
	return v.Data[voxel+t*v.SpatialLen()]
}

// Truncate drops trailing temporal samples so that the volume keeps
// only the first n. It is a no-op when the volume already has n or
// fewer samples.
func (v *Volume) Truncate(n int) {
	if !v.Is4D() || v.Nt <= n {
		return
	}
	v.Data = v.Data[:v.SpatialLen()*n]
	v.Nt = n
}
