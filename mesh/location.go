package mesh

import "fmt"

// LogicalLocation addresses a block in the refinement forest. At Level L
// there are RootBlocks[d]<<L blocks along every active dimension d.
type LogicalLocation struct {
	Level int
	LX    [3]int64
}

func (l LogicalLocation) String() string {
	return fmt.Sprintf("L%d(%d,%d,%d)", l.Level, l.LX[0], l.LX[1], l.LX[2])
}

func (l LogicalLocation) Parent() (p LogicalLocation) {
	if l.Level == 0 {
		panic("root location has no parent")
	}
	p.Level = l.Level - 1
	for d := 0; d < 3; d++ {
		p.LX[d] = l.LX[d] >> 1
	}
	return
}

// Child returns the child at index c (each component 0 or 1). Inactive
// dimensions must carry c[d] == 0.
func (l LogicalLocation) Child(c [3]int64) (ch LogicalLocation) {
	ch.Level = l.Level + 1
	for d := 0; d < 3; d++ {
		ch.LX[d] = l.LX[d]<<1 + c[d]
	}
	return
}

// ChildIndex is the position of l inside its parent
func (l LogicalLocation) ChildIndex() (c [3]int64) {
	for d := 0; d < 3; d++ {
		c[d] = l.LX[d] & 1
	}
	return
}

// Children enumerates the 2^dim children of l, X1 fastest
func (l LogicalLocation) Children(dim int) (children []LogicalLocation) {
	var (
		n2 = 1 + b2i(dim > 1)
		n3 = 1 + b2i(dim > 2)
	)
	for k := 0; k < n3; k++ {
		for j := 0; j < n2; j++ {
			for i := 0; i < 2; i++ {
				children = append(children, l.Child([3]int64{int64(i), int64(j), int64(k)}))
			}
		}
	}
	return
}

// IsAncestorOf reports whether l strictly contains o
func (l LogicalLocation) IsAncestorOf(o LogicalLocation) bool {
	if o.Level <= l.Level {
		return false
	}
	shift := uint(o.Level - l.Level)
	for d := 0; d < 3; d++ {
		if o.LX[d]>>shift != l.LX[d] {
			return false
		}
	}
	return true
}

// ZOrderLess orders locations along the Morton curve. Both locations are
// brought to the finer level and the interleaved bit keys compared; when one
// location contains the other the coarser sorts first.
func ZOrderLess(a, b LogicalLocation) bool {
	var (
		lvl      = max(a.Level, b.Level)
		xa, xb   [3]int64
		best     = -1
		bestDiff int64
	)
	for d := 0; d < 3; d++ {
		xa[d] = a.LX[d] << uint(lvl-a.Level)
		xb[d] = b.LX[d] << uint(lvl-b.Level)
	}
	// X3 holds the most significant bit of each interleaved triple
	for d := 2; d >= 0; d-- {
		diff := xa[d] ^ xb[d]
		if lessMSB(bestDiff, diff) {
			best, bestDiff = d, diff
		}
	}
	if best < 0 {
		return a.Level < b.Level
	}
	return xa[best] < xb[best]
}

// lessMSB reports whether the most significant set bit of a is below that of b
func lessMSB(a, b int64) bool {
	return a < b && a < (a^b)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
