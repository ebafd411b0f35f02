package mesh

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

type RefineFlag int8

const (
	RefineDerefine RefineFlag = -1
	RefineKeep     RefineFlag = 0
	RefineRefine   RefineFlag = 1
)

// RefineFunc flags a block for refinement or derefinement
type RefineFunc func(b *Block) RefineFlag

// RefineBalanced refines loc after refining every coarser neighbor, so that
// neighboring leaves never differ by more than one level
func (m *Mesh) RefineBalanced(loc LogicalLocation) (err error) {
	if m.Tree.IsInternal(loc) {
		return
	}
	if loc.Level >= m.Config.MaxLevel {
		err = fmt.Errorf("%w: refinement of %s beyond MaxLevel %d",
			ErrTopologyViolation, loc, m.Config.MaxLevel)
		return
	}
	for _, ox := range m.Directions() {
		tgt, _, _, ok := m.targetLocation(loc, ox)
		if !ok {
			continue
		}
		for {
			res, found := m.Tree.Lookup(tgt)
			if res != LookupCoarser {
				break
			}
			if err = m.RefineBalanced(found); err != nil {
				return
			}
		}
	}
	return m.Tree.Refine(loc)
}

// canDerefine reports whether merging the children of parent keeps 2:1
func (m *Mesh) canDerefine(parent LogicalLocation) bool {
	for _, ch := range parent.Children(m.Config.Dim) {
		if !m.Tree.IsLeaf(ch) {
			return false
		}
	}
	for _, ox := range m.Directions() {
		tgt, _, polar, ok := m.targetLocation(parent, ox)
		if !ok || !m.Tree.IsInternal(tgt) {
			continue
		}
		for _, ch := range m.touchingChildren(tgt, neighborOffset(ox, polar)) {
			if !m.Tree.IsLeaf(ch) {
				return false
			}
		}
	}
	return true
}

// Regrid applies refinement flags keyed by GID. Refinements are applied
// first, then sibling sets that all vote for derefinement are merged when 2:1
// allows it. Field data moves to the new blocks and the topology becomes
// stale.
func (m *Mesh) Regrid(flags map[int]RefineFlag) (changed bool, err error) {
	var (
		old   = make(map[LogicalLocation]*Block, len(m.Blocks))
		gids  = make([]int, 0, len(flags))
		votes = make(map[LogicalLocation]int)
	)
	for _, b := range m.Blocks {
		old[b.Loc] = b
	}
	for gid := range flags {
		gids = append(gids, gid)
	}
	sort.Ints(gids)
	for _, gid := range gids {
		loc := m.Blocks[gid].Loc
		if flags[gid] != RefineRefine || loc.Level >= m.Config.MaxLevel || !m.Tree.IsLeaf(loc) {
			continue
		}
		if err = m.RefineBalanced(loc); err != nil {
			return
		}
		changed = true
	}
	for _, gid := range gids {
		loc := m.Blocks[gid].Loc
		if flags[gid] == RefineDerefine && loc.Level > 0 && m.Tree.IsLeaf(loc) {
			votes[loc.Parent()]++
		}
	}
	parents := make([]LogicalLocation, 0, len(votes))
	for p, n := range votes {
		if n == 1<<uint(m.Config.Dim) {
			parents = append(parents, p)
		}
	}
	sort.Slice(parents, func(i, j int) bool { return ZOrderLess(parents[i], parents[j]) })
	for _, p := range parents {
		if !m.canDerefine(p) {
			continue
		}
		if err = m.Tree.Derefine(p); err != nil {
			return
		}
		changed = true
	}
	if !changed {
		return
	}
	m.rebuildArena(old)
	for _, b := range m.Blocks {
		if _, ok := old[b.Loc]; ok {
			continue
		}
		if err = m.fillNewBlock(b, old); err != nil {
			return
		}
	}
	log.Info().Int("blocks", len(m.Blocks)).Int("maxLevel", m.Tree.MaxLevel()).
		Msg("regrid complete")
	return
}

// fillNewBlock initializes a block created by Regrid from the old blocks it
// replaces: an old ancestor (refinement) or the old children (derefinement)
func (m *Mesh) fillNewBlock(b *Block, old map[LogicalLocation]*Block) (err error) {
	for p := b.Loc; p.Level > 0; {
		p = p.Parent()
		if src, ok := old[p]; ok {
			m.prolongateFrom(b, src)
			b.Rank, b.Cost = src.Rank, src.Cost/float64(int(1)<<uint(m.Config.Dim))
			return
		}
	}
	var children []*Block
	for _, ch := range b.Loc.Children(m.Config.Dim) {
		src, ok := old[ch]
		if !ok {
			err = fmt.Errorf("%w: no data source for new block %s", ErrTopologyViolation, b.Loc)
			return
		}
		children = append(children, src)
	}
	b.Rank, b.Cost = children[0].Rank, 0
	for _, ch := range children {
		m.restrictFrom(b, ch)
		b.Cost += ch.Cost
	}
	return
}

// prolongateFrom fills the interior of b from an ancestor, one level at a time
func (m *Mesh) prolongateFrom(b, src *Block) {
	if src.Loc.Level < b.Loc.Level-1 {
		mid := b.Loc
		for mid.Level > src.Loc.Level+1 {
			mid = mid.Parent()
		}
		tmp := m.newBlock(mid)
		m.prolongateFrom(tmp, src)
		src = tmp
	}
	var (
		fa     = b.Fields
		lo, hi = fa.Interior()
		dim    = m.Config.Dim
	)
	for n := 0; n < fa.NVar; n++ {
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					var (
						idx    = [3]int{i, j, k}
						c      [3]int
						parity [3]int64
					)
					for d := 0; d < 3; d++ {
						if d >= dim {
							c[d] = src.Fields.IS(d)
							continue
						}
						g := m.GlobalCellIndex(b, d, idx[d])
						c[d] = int(g>>1-src.Loc.LX[d]*int64(m.Config.BlockCells[d])) + src.Fields.IS(d)
						parity[d] = g & 1
					}
					fa.Set(n, k, j, i, ProlongateCell(src.Fields, n, c, parity, dim))
				}
			}
		}
	}
}

// restrictFrom fills the part of parent b covered by the child block ch
func (m *Mesh) restrictFrom(b, ch *Block) {
	var (
		fa     = b.Fields
		dim    = m.Config.Dim
		lo, hi [3]int
	)
	for d := 0; d < 3; d++ {
		if d >= dim {
			lo[d], hi[d] = fa.IS(d), fa.IE(d)
			continue
		}
		half := fa.NX[d] / 2
		lo[d] = fa.IS(d) + int(ch.Loc.ChildIndex()[d])*half
		hi[d] = lo[d] + half - 1
	}
	for n := 0; n < fa.NVar; n++ {
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					var (
						idx = [3]int{i, j, k}
						f   [3]int
					)
					for d := 0; d < 3; d++ {
						if d >= dim {
							f[d] = ch.Fields.IS(d)
							continue
						}
						f[d] = 2*(idx[d]-lo[d]) + ch.Fields.IS(d)
					}
					fa.Set(n, k, j, i, RestrictCell(ch, n, f, dim))
				}
			}
		}
	}
}

// ProlongateCell returns the value of the fine cell with the given parity
// inside coarse cell c (i,j,k order) of fa. Slopes are minmod limited and
// vanish where a neighbor cell falls outside the interior, so the fine
// values always average back to the coarse value.
func ProlongateCell(fa *FieldArray, n int, c [3]int, parity [3]int64, dim int) (v float64) {
	var (
		q = fa.At(n, c[2], c[1], c[0])
	)
	v = q
	for d := 0; d < dim; d++ {
		var (
			lo, hi = c, c
			slope  float64
		)
		lo[d]--
		hi[d]++
		if lo[d] >= fa.IS(d) && hi[d] <= fa.IE(d) {
			slope = minmod(q-fa.At(n, lo[2], lo[1], lo[0]), fa.At(n, hi[2], hi[1], hi[0])-q)
		}
		if parity[d] == 0 {
			v -= 0.25 * slope
		} else {
			v += 0.25 * slope
		}
	}
	return
}

// RestrictCell returns the volume weighted average of the 2^dim fine cells of
// b starting at lo (i,j,k order)
func RestrictCell(b *Block, n int, lo [3]int, dim int) float64 {
	var (
		fa         = b.Fields
		vals, wts  [8]float64
		cnt        int
		nj, nk     = 1 + b2i(dim > 1), 1 + b2i(dim > 2)
		i0, j0, k0 = lo[0], lo[1], lo[2]
	)
	for dk := 0; dk < nk; dk++ {
		for dj := 0; dj < nj; dj++ {
			for di := 0; di < 2; di++ {
				vals[cnt] = fa.At(n, k0+dk, j0+dj, i0+di)
				wts[cnt] = b.CellVolume(k0+dk, j0+dj, i0+di)
				cnt++
			}
		}
	}
	return floats.Dot(vals[:cnt], wts[:cnt]) / floats.Sum(wts[:cnt])
}

func minmod(a, b float64) float64 {
	if a*b <= 0 {
		return 0
	}
	return math.Copysign(math.Min(math.Abs(a), math.Abs(b)), a)
}
