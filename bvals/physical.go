package bvals

import (
	"fmt"

	"github.com/notargets/goamr/mesh"
)

// BoundaryFunc fills the ghost cells of block b beyond face
type BoundaryFunc func(b *mesh.Block, face mesh.BoundaryFace, time float64) error

// PhysicalBoundaries applies the per-face boundary policies after the
// neighbor exchange. Faces are processed X1 first so that later faces fill
// the corners from ghosts already set.
type PhysicalBoundaries struct {
	Mesh      *mesh.Mesh
	Angles    *AngleGrid
	User      [mesh.NumFaces]BoundaryFunc
	dispatch  map[mesh.BoundaryFlag]BoundaryFunc
	angleVars [][]int // Field variable of each angle index, per angle group
}

func NewPhysicalBoundaries(m *mesh.Mesh, user map[mesh.BoundaryFace]BoundaryFunc) (pb *PhysicalBoundaries, err error) {
	cfg := m.Config
	pb = &PhysicalBoundaries{Mesh: m}
	for f, fn := range user {
		pb.User[f] = fn
	}
	for f := mesh.BoundaryFace(0); f < mesh.NumFaces; f++ {
		if f.Dim() < cfg.Dim && cfg.Boundaries[f] == mesh.BoundaryUser && pb.User[f] == nil {
			err = fmt.Errorf("%w: no user boundary function for %s", mesh.ErrInvalidConfig, f)
			return
		}
	}
	if cfg.NZeta > 0 && cfg.NPsi > 0 {
		if pb.Angles, err = NewAngleGrid(cfg.NZeta, cfg.NPsi); err != nil {
			return
		}
		for n, spec := range cfg.Fields {
			if spec.Kind != mesh.Angle {
				continue
			}
			if spec.AngleIndex == 0 {
				pb.angleVars = append(pb.angleVars, make([]int, pb.Angles.NAngles()))
			}
			if len(pb.angleVars) == 0 || spec.AngleIndex >= pb.Angles.NAngles() {
				err = fmt.Errorf("%w: angle field %s out of sequence", mesh.ErrInvalidConfig, spec.Name)
				return
			}
			pb.angleVars[len(pb.angleVars)-1][spec.AngleIndex] = n
		}
		if cfg.Boundaries[mesh.InnerX2] == mesh.BoundaryPolar ||
			cfg.Boundaries[mesh.OuterX2] == mesh.BoundaryPolar {
			if cfg.NPsi%2 != 0 {
				err = fmt.Errorf("%w: polar boundaries need an even NPsi, got %d",
					mesh.ErrInvalidConfig, cfg.NPsi)
				return
			}
		}
	}
	pb.dispatch = map[mesh.BoundaryFlag]BoundaryFunc{
		mesh.BoundaryReflecting: pb.ApplyReflectingBoundary,
		mesh.BoundaryOutflow:    pb.ApplyOutflowBoundary,
		mesh.BoundaryPeriodic:   noBoundary,
		mesh.BoundaryBlock:      noBoundary,
		mesh.BoundaryPolar:      pb.ApplyPolarBoundary,
		mesh.BoundaryUser:       pb.applyUser,
	}
	return
}

func noBoundary(*mesh.Block, mesh.BoundaryFace, float64) error { return nil }

func (pb *PhysicalBoundaries) applyUser(b *mesh.Block, face mesh.BoundaryFace, time float64) error {
	return pb.User[face](b, face, time)
}

// Apply runs the boundary policy of every face of b
func (pb *PhysicalBoundaries) Apply(b *mesh.Block, time float64) (err error) {
	for d := 0; d < pb.Mesh.Config.Dim; d++ {
		for _, side := range []int{-1, 1} {
			var (
				face = mesh.FaceOf(d, side)
				flag = pb.Mesh.FaceFlag(b, face)
			)
			fn, ok := pb.dispatch[flag]
			if !ok {
				return fmt.Errorf("%w: no boundary function for %s on %s", ErrBufferMismatch, flag, face)
			}
			if err = fn(b, face, time); err != nil {
				return fmt.Errorf("%s boundary on %s of block %d: %w", flag, face, b.GID, err)
			}
		}
	}
	return
}

// faceCells calls fn once for each ghost cell beyond face of b and the
// interior cell it mirrors, nearest ghosts first. Dimensions before the face
// normal span their ghosts, which earlier faces have filled. Later ones span
// their ghosts only on sides filled by the exchange.
func (pb *PhysicalBoundaries) faceCells(b *mesh.Block, face mesh.BoundaryFace, fn func(ghost, mirror [3]int)) {
	var (
		fa     = b.Fields
		d      = face.Dim()
		lo, hi [3]int
	)
	for dd := 0; dd < 3; dd++ {
		switch {
		case dd == d:
		case dd < d:
			lo[dd], hi[dd] = 0, fa.N[dd]-1
		default:
			lo[dd], hi[dd] = fa.IS(dd), fa.IE(dd)
			if exchanged(pb.Mesh.FaceFlag(b, mesh.FaceOf(dd, -1))) {
				lo[dd] = 0
			}
			if exchanged(pb.Mesh.FaceFlag(b, mesh.FaceOf(dd, 1))) {
				hi[dd] = fa.N[dd] - 1
			}
		}
	}
	for n := 1; n <= fa.NGhost[d]; n++ {
		if face.Side() < 0 {
			lo[d], hi[d] = fa.IS(d)-n, fa.IS(d)-n
		} else {
			lo[d], hi[d] = fa.IE(d)+n, fa.IE(d)+n
		}
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					ghost := [3]int{i, j, k}
					mirror := ghost
					if face.Side() < 0 {
						mirror[d] = fa.IS(d) + n - 1
					} else {
						mirror[d] = fa.IE(d) - n + 1
					}
					fn(ghost, mirror)
				}
			}
		}
	}
}

// exchanged reports whether the ghosts beyond a face with this flag are
// filled by the neighbor exchange
func exchanged(flag mesh.BoundaryFlag) bool {
	return flag == mesh.BoundaryBlock || flag == mesh.BoundaryPolar
}

// remapAngles writes the remapped angle groups of cell src into cell dst
func (pb *PhysicalBoundaries) remapAngles(fa *mesh.FieldArray, table []AngleWeight, src, dst [3]int) {
	var (
		na       = pb.Angles.NAngles()
		from, to = make([]float64, na), make([]float64, na)
	)
	for _, vars := range pb.angleVars {
		for a, n := range vars {
			from[a] = fa.At(n, src[2], src[1], src[0])
		}
		Remap(table, from, to)
		for a, n := range vars {
			fa.Set(n, dst[2], dst[1], dst[0], to[a])
		}
	}
}

// ApplyReflectingBoundary mirrors the interior into the ghosts, flipping the
// vector component normal to the face and reflecting angle directions
func (pb *PhysicalBoundaries) ApplyReflectingBoundary(b *mesh.Block, face mesh.BoundaryFace, _ float64) error {
	var (
		fa    = b.Fields
		d     = face.Dim()
		specs = pb.Mesh.Config.Fields
	)
	pb.faceCells(b, face, func(ghost, mirror [3]int) {
		for n, spec := range specs {
			if spec.Kind == mesh.Angle {
				continue
			}
			v := fa.At(n, mirror[2], mirror[1], mirror[0])
			if spec.Kind.VectorDim() == d {
				v = -v
			}
			fa.Set(n, ghost[2], ghost[1], ghost[0], v)
		}
		if pb.Angles != nil {
			pb.remapAngles(fa, pb.Angles.Reflect[d], mirror, ghost)
		}
	})
	return nil
}

// ApplyOutflowBoundary copies the last interior cell into every ghost
func (pb *PhysicalBoundaries) ApplyOutflowBoundary(b *mesh.Block, face mesh.BoundaryFace, _ float64) error {
	var (
		fa = b.Fields
		d  = face.Dim()
	)
	pb.faceCells(b, face, func(ghost, _ [3]int) {
		src := ghost
		if face.Side() < 0 {
			src[d] = fa.IS(d)
		} else {
			src[d] = fa.IE(d)
		}
		for n := 0; n < fa.NVar; n++ {
			fa.Set(n, ghost[2], ghost[1], ghost[0], fa.At(n, src[2], src[1], src[0]))
		}
	})
	return nil
}

// ApplyPolarBoundary rotates the angle groups of the ghost cells beyond a
// pole by half a turn in psi. The ghost values themselves arrive through the
// neighbor exchange.
func (pb *PhysicalBoundaries) ApplyPolarBoundary(b *mesh.Block, face mesh.BoundaryFace, _ float64) error {
	if pb.Angles == nil || len(pb.angleVars) == 0 {
		return nil
	}
	pb.faceCells(b, face, func(ghost, _ [3]int) {
		pb.remapAngles(b.Fields, pb.Angles.Polar, ghost, ghost)
	})
	return nil
}
