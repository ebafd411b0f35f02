package mesh

import (
	"fmt"
	"sort"
)

type LookupResult uint8

const (
	LookupMissing LookupResult = iota
	LookupLeaf
	LookupCoarser  // Covered by a leaf at a coarser level
	LookupInternal // Refined, the leaves are below
)

func (r LookupResult) String() string {
	return [...]string{"Missing", "Leaf", "CoveredByCoarser", "Internal"}[r]
}

// Tree is the refinement forest rooted at the level 0 grid. Only the set of
// leaves and internal nodes is stored; blocks live in the Mesh arena.
type Tree struct {
	Dim        int
	RootBlocks [3]int64
	leaves     map[LogicalLocation]struct{}
	internal   map[LogicalLocation]struct{}
}

func NewTree(dim int, rootBlocks [3]int64) (t *Tree) {
	t = &Tree{
		Dim:        dim,
		RootBlocks: rootBlocks,
		leaves:     make(map[LogicalLocation]struct{}),
		internal:   make(map[LogicalLocation]struct{}),
	}
	for k := int64(0); k < rootBlocks[2]; k++ {
		for j := int64(0); j < rootBlocks[1]; j++ {
			for i := int64(0); i < rootBlocks[0]; i++ {
				t.leaves[LogicalLocation{LX: [3]int64{i, j, k}}] = struct{}{}
			}
		}
	}
	return
}

// NumBlocks is the number of same-level locations along dimension d
func (t *Tree) NumBlocks(level, d int) int64 {
	if d >= t.Dim {
		return 1
	}
	return t.RootBlocks[d] << uint(level)
}

func (t *Tree) InDomain(loc LogicalLocation) bool {
	for d := 0; d < 3; d++ {
		if loc.LX[d] < 0 || loc.LX[d] >= t.NumBlocks(loc.Level, d) {
			return false
		}
	}
	return true
}

func (t *Tree) IsLeaf(loc LogicalLocation) bool {
	_, ok := t.leaves[loc]
	return ok
}

func (t *Tree) IsInternal(loc LogicalLocation) bool {
	_, ok := t.internal[loc]
	return ok
}

func (t *Tree) NumLeaves() int { return len(t.leaves) }

// Lookup classifies a same-level location. For LookupCoarser the covering
// leaf is returned, otherwise loc itself.
func (t *Tree) Lookup(loc LogicalLocation) (res LookupResult, found LogicalLocation) {
	found = loc
	switch {
	case !t.InDomain(loc):
		return LookupMissing, loc
	case t.IsLeaf(loc):
		return LookupLeaf, loc
	case t.IsInternal(loc):
		return LookupInternal, loc
	}
	for p := loc; p.Level > 0; {
		p = p.Parent()
		if t.IsLeaf(p) {
			return LookupCoarser, p
		}
	}
	return LookupMissing, loc
}

// Refine splits a leaf into its 2^Dim children
func (t *Tree) Refine(loc LogicalLocation) (err error) {
	if !t.IsLeaf(loc) {
		err = fmt.Errorf("%w: refine of non-leaf %s", ErrTopologyViolation, loc)
		return
	}
	delete(t.leaves, loc)
	t.internal[loc] = struct{}{}
	for _, ch := range loc.Children(t.Dim) {
		t.leaves[ch] = struct{}{}
	}
	return
}

// Derefine merges the children of parent, which must all be leaves
func (t *Tree) Derefine(parent LogicalLocation) (err error) {
	if !t.IsInternal(parent) {
		err = fmt.Errorf("%w: derefine of non-internal %s", ErrTopologyViolation, parent)
		return
	}
	children := parent.Children(t.Dim)
	for _, ch := range children {
		if !t.IsLeaf(ch) {
			err = fmt.Errorf("%w: derefine of %s with refined child %s",
				ErrTopologyViolation, parent, ch)
			return
		}
	}
	for _, ch := range children {
		delete(t.leaves, ch)
	}
	delete(t.internal, parent)
	t.leaves[parent] = struct{}{}
	return
}

// Leaves returns all leaves in Z-order
func (t *Tree) Leaves() (leaves []LogicalLocation) {
	leaves = make([]LogicalLocation, 0, len(t.leaves))
	for loc := range t.leaves {
		leaves = append(leaves, loc)
	}
	sort.Slice(leaves, func(i, j int) bool {
		return ZOrderLess(leaves[i], leaves[j])
	})
	return
}

func (t *Tree) MaxLevel() (lvl int) {
	for loc := range t.leaves {
		lvl = max(lvl, loc.Level)
	}
	return
}
