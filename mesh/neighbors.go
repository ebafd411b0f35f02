package mesh

import (
	"fmt"
)

type NeighborKind uint8

const (
	NeighborFace NeighborKind = iota + 1
	NeighborEdge
	NeighborCorner
)

func (nk NeighborKind) String() string {
	switch nk {
	case NeighborFace:
		return "Face"
	case NeighborEdge:
		return "Edge"
	case NeighborCorner:
		return "Corner"
	}
	return "Unknown"
}

// NeighborRelation describes one ghost region of BlockID and the block
// (NeighborID) whose data fills it
type NeighborRelation struct {
	BlockID      int
	NeighborID   int
	NeighborRank int
	// Offset points from BlockID toward the neighbor, NeighborOffset points
	// back from the neighbor. They differ across a pole, and a coarser
	// neighbor sees BlockID head on along dimensions where the step stays
	// inside BlockID's parent.
	Offset         [3]int
	NeighborOffset [3]int
	LevelDelta     int // Neighbor level minus own level
	BufferID       int
	Periodic       [3]bool
	Polar          bool
	Kind           NeighborKind
	NeighborLoc    LogicalLocation
}

func (rel NeighborRelation) String() string {
	return fmt.Sprintf("%d <- %d (rank %d) offset %v delta %+d %s buf %d",
		rel.BlockID, rel.NeighborID, rel.NeighborRank, rel.Offset, rel.LevelDelta,
		rel.Kind, rel.BufferID)
}

// DirectionIndex packs an offset into 0..26
func DirectionIndex(ox [3]int) int {
	return (ox[2]+1)*9 + (ox[1]+1)*3 + (ox[0] + 1)
}

// Directions lists the 3^Dim-1 neighbor offsets, X1 fastest
func (m *Mesh) Directions() (dirs [][3]int) {
	var (
		dim    = m.Config.Dim
		lo, hi [3]int
	)
	for d := 0; d < dim; d++ {
		lo[d], hi[d] = -1, 1
	}
	for o3 := lo[2]; o3 <= hi[2]; o3++ {
		for o2 := lo[1]; o2 <= hi[1]; o2++ {
			for o1 := lo[0]; o1 <= hi[0]; o1++ {
				if o1 == 0 && o2 == 0 && o3 == 0 {
					continue
				}
				dirs = append(dirs, [3]int{o1, o2, o3})
			}
		}
	}
	return
}

func kindOf(ox [3]int) NeighborKind {
	var n int
	for _, o := range ox {
		if o != 0 {
			n++
		}
	}
	return NeighborKind(n)
}

// targetLocation returns the same-level location reached from loc in
// direction ox. ok is false when the direction leaves the domain through a
// physical boundary.
func (m *Mesh) targetLocation(loc LogicalLocation, ox [3]int) (tgt LogicalLocation,
	periodic [3]bool, polar, ok bool) {
	tgt = loc
	for d := 0; d < m.Config.Dim; d++ {
		var (
			n  = loc.LX[d] + int64(ox[d])
			nb = m.NumBlocks(loc.Level, d)
		)
		if n >= 0 && n < nb {
			tgt.LX[d] = n
			continue
		}
		side := -1
		if n >= nb {
			side = 1
		}
		switch m.Config.Boundaries[FaceOf(d, side)] {
		case BoundaryPeriodic:
			tgt.LX[d] = mod64(n, nb)
			periodic[d] = true
		case BoundaryPolar:
			// The mirror block across the pole has the same X2 index
			polar = true
		default:
			return
		}
	}
	if polar && m.Config.Dim == 3 {
		nb := m.NumBlocks(loc.Level, 2)
		tgt.LX[2] = mod64(tgt.LX[2]+nb/2, nb)
	}
	ok = true
	return
}

func neighborOffset(ox [3]int, polar bool) (nox [3]int) {
	for d := 0; d < 3; d++ {
		nox[d] = -ox[d]
	}
	if polar {
		nox[1] = ox[1]
	}
	return
}

// coarserOffset is the direction in which a neighbor one level coarser sees
// the block at loc. Along d the offset is zero when the step ox[d] stays
// inside the parent of loc.
func (m *Mesh) coarserOffset(loc LogicalLocation, ox [3]int, polar bool) (nox [3]int) {
	nox = neighborOffset(ox, polar)
	for d := 0; d < m.Config.Dim; d++ {
		if ox[d] == 0 || (polar && d == 1) {
			continue
		}
		n := mod64(loc.LX[d]+int64(ox[d]), m.NumBlocks(loc.Level, d))
		if n>>1 == loc.LX[d]>>1 {
			nox[d] = 0
		}
	}
	return
}

// touchingChildren are the children of tgt adjacent to a block lying in
// direction nox from tgt
func (m *Mesh) touchingChildren(tgt LogicalLocation, nox [3]int) (children []LogicalLocation) {
	for _, ch := range tgt.Children(m.Config.Dim) {
		c := ch.ChildIndex()
		touches := true
		for d := 0; d < m.Config.Dim; d++ {
			if (nox[d] < 0 && c[d] != 0) || (nox[d] > 0 && c[d] != 1) {
				touches = false
			}
		}
		if touches {
			children = append(children, ch)
		}
	}
	return
}

// FindNeighbors classifies every neighbor of b. When the region in a
// direction is refined, the touching children are all returned, one
// relation each.
func (m *Mesh) FindNeighbors(b *Block) (rels []NeighborRelation, err error) {
	add := func(base NeighborRelation, loc LogicalLocation, delta int) error {
		gid, ok := m.gidOf[loc]
		if !ok {
			return fmt.Errorf("%w: leaf %s has no block", ErrTopologyStale, loc)
		}
		base.NeighborID = gid
		base.NeighborRank = m.Blocks[gid].Rank
		base.NeighborLoc = loc
		base.LevelDelta = delta
		rels = append(rels, base)
		return nil
	}
	for _, ox := range m.Directions() {
		tgt, periodic, polar, ok := m.targetLocation(b.Loc, ox)
		if !ok {
			continue
		}
		var (
			base = NeighborRelation{
				BlockID:        b.GID,
				Offset:         ox,
				NeighborOffset: neighborOffset(ox, polar),
				BufferID:       -1,
				Periodic:       periodic,
				Polar:          polar,
				Kind:           kindOf(ox),
			}
			res, found = m.Tree.Lookup(tgt)
		)
		switch res {
		case LookupLeaf:
			err = add(base, found, 0)
		case LookupCoarser:
			if found.Level != tgt.Level-1 {
				err = fmt.Errorf("%w: block %s sees %s across %v, level jump %d",
					ErrTopologyViolation, b.Loc, found, ox, tgt.Level-found.Level)
				break
			}
			base.NeighborOffset = m.coarserOffset(b.Loc, ox, polar)
			err = add(base, found, -1)
		case LookupInternal:
			for _, ch := range m.touchingChildren(tgt, base.NeighborOffset) {
				if !m.Tree.IsLeaf(ch) {
					err = fmt.Errorf("%w: block %s sees refined %s across %v",
						ErrTopologyViolation, b.Loc, ch, ox)
					break
				}
				if err = add(base, ch, 1); err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("%w: block %s has no neighbor at %s",
				ErrTopologyViolation, b.Loc, tgt)
		}
		if err != nil {
			rels = nil
			return
		}
	}
	return
}

// MapCellIndex maps a global cell index g along d, taken at level lvl in the
// frame of the receiving block of rel, into the frame of the sender
func (m *Mesh) MapCellIndex(rel *NeighborRelation, d int, g int64, lvl int) int64 {
	ncell := m.NumBlocks(lvl, d) * int64(m.Config.BlockCells[d])
	switch {
	case d >= m.Config.Dim:
		return g
	case d == 1 && rel.Polar:
		if g < 0 {
			return -1 - g
		}
		if g >= ncell {
			return 2*ncell - 1 - g
		}
		return g
	case d == 2 && rel.Polar:
		return mod64(g+ncell/2, ncell)
	case m.Config.Boundaries[FaceOf(d, -1)] == BoundaryPeriodic:
		return mod64(g, ncell)
	}
	return g
}

// GlobalCellIndex is the level-wide index along d of local index i of b
func (m *Mesh) GlobalCellIndex(b *Block, d, i int) int64 {
	return b.Loc.LX[d]*int64(m.Config.BlockCells[d]) + int64(i-b.Fields.IS(d))
}

func mod64(a, n int64) int64 {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
