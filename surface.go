package streamdec

import "sync/atomic"

// Surface is one NV12 frame buffer the codec decodes into.
type Surface struct {
	Index  int
	Width  int // Display width
	Height int // Display height
	Pitch  int // Row stride of both planes

	Y  []byte // Pitch * alignedHeight
	UV []byte // Pitch * alignedHeight/2, interleaved U/V

	// TimestampNs is set by the backend for output surfaces.
	TimestampNs int64

	locked atomic.Int32
}

// Lock marks the surface as held by the codec. Backends call this for every
// surface they keep past DecodeAsync and Unlock once they are done with it.
func (s *Surface) Lock() { s.locked.Add(1) }

// Unlock releases one codec hold.
func (s *Surface) Unlock() {
	if s.locked.Add(-1) < 0 {
		s.locked.Store(0)
	}
}

// SetLocked overwrites the codec hold with the state a native SDK reports.
func (s *Surface) SetLocked(locked bool) {
	if locked {
		s.locked.Store(1)
	} else {
		s.locked.Store(0)
	}
}

// Locked reports whether the codec still holds the surface.
func (s *Surface) Locked() bool { return s.locked.Load() > 0 }

// SurfacePool is a fixed set of surfaces with in-use tracking.
// It is not safe for concurrent use; the owning Decoder serializes access.
type SurfacePool struct {
	surfaces []*Surface
	inUse    []bool
	params   StreamParams
}

// NewSurfacePool allocates count surfaces sized for params. Planes are
// allocated with a pitch aligned to 32 bytes and height aligned to 32 rows.
func NewSurfacePool(count int, params StreamParams) *SurfacePool {
	if count < 1 {
		count = 1
	}
	w, h := params.CodedWidth, params.CodedHeight
	if w < params.Width {
		w = params.Width
	}
	if h < params.Height {
		h = params.Height
	}
	pitch := align32(w)
	rows := align32(h)

	p := &SurfacePool{
		surfaces: make([]*Surface, count),
		inUse:    make([]bool, count),
		params:   params,
	}
	for i := range p.surfaces {
		p.surfaces[i] = &Surface{
			Index:  i,
			Width:  params.Width,
			Height: params.Height,
			Pitch:  pitch,
			Y:      make([]byte, pitch*rows),
			UV:     make([]byte, pitch*rows/2),
		}
	}
	return p
}

func align32(v int) int { return (v + 31) &^ 31 }

// Acquire marks the lowest-indexed free surface as in use and returns its
// index. It returns -1, false when every surface is taken.
func (p *SurfacePool) Acquire() (int, bool) {
	for i, s := range p.surfaces {
		if !p.inUse[i] && !s.Locked() {
			p.inUse[i] = true
			return i, true
		}
	}
	return -1, false
}

// Hold marks index as in use regardless of how it was obtained. Backends may
// return an output surface different from the work surface they were given.
func (p *SurfacePool) Hold(index int) {
	if index >= 0 && index < len(p.inUse) {
		p.inUse[index] = true
	}
}

// Release returns index to the pool. Releasing a free or unknown index is a no-op.
func (p *SurfacePool) Release(index int) {
	if index >= 0 && index < len(p.inUse) {
		p.inUse[index] = false
	}
}

// InUse reports whether index is currently held by the decoder or the codec.
func (p *SurfacePool) InUse(index int) bool {
	if index < 0 || index >= len(p.inUse) {
		return false
	}
	return p.inUse[index] || p.surfaces[index].Locked()
}

// Surface returns the surface at index, or nil.
func (p *SurfacePool) Surface(index int) *Surface {
	if index < 0 || index >= len(p.surfaces) {
		return nil
	}
	return p.surfaces[index]
}

// Surfaces returns every surface in index order.
func (p *SurfacePool) Surfaces() []*Surface { return p.surfaces }

// Owns reports whether s belongs to this pool.
func (p *SurfacePool) Owns(s *Surface) bool {
	return s != nil && s.Index >= 0 && s.Index < len(p.surfaces) && p.surfaces[s.Index] == s
}

// Cap returns the number of surfaces.
func (p *SurfacePool) Cap() int { return len(p.surfaces) }

// Free returns the number of surfaces Acquire could hand out.
func (p *SurfacePool) Free() int {
	n := 0
	for i := range p.surfaces {
		if !p.InUse(i) {
			n++
		}
	}
	return n
}

// Params returns the stream parameters the pool was sized for.
func (p *SurfacePool) Params() StreamParams { return p.params }
