package bvals

import (
	"fmt"

	"github.com/notargets/goamr/mesh"
)

// ghostRegion is the box of receiver ghost cells filled by one relation.
// Per dimension it lists the receiver local indices and, for each, where the
// value comes from inside the sender: a local index (same level), a coarse
// local index plus child parity (sender coarser) or the first of two fine
// local indices (sender finer).
type ghostRegion struct {
	recv   [3][]int
	send   [3][]int
	parity [3][]int64
}

func (gr *ghostRegion) Cells() int {
	return len(gr.recv[0]) * len(gr.recv[1]) * len(gr.recv[2])
}

func newGhostRegion(m *mesh.Mesh, rel *mesh.NeighborRelation) (gr *ghostRegion, err error) {
	var (
		recvB = m.Blocks[rel.BlockID]
		sendB = m.Blocks[rel.NeighborID]
		fa    = recvB.Fields
		dim   = m.Config.Dim
	)
	gr = &ghostRegion{}
	for d := 0; d < 3; d++ {
		if d >= dim {
			gr.recv[d] = []int{0}
			gr.send[d] = []int{0}
			gr.parity[d] = []int64{0}
			continue
		}
		var (
			lo, hi = fa.IS(d), fa.IE(d)
			ng     = fa.NGhost[d]
			nx     = int64(m.Config.BlockCells[d])
			s0     = sendB.Loc.LX[d] * nx // First sender cell at the sender level
			is     = sendB.Fields.IS(d)
		)
		switch rel.Offset[d] {
		case -1:
			lo, hi = fa.IS(d)-ng, fa.IS(d)-1
		case 1:
			lo, hi = fa.IE(d)+1, fa.IE(d)+ng
		}
		for i := lo; i <= hi; i++ {
			var (
				g   = m.GlobalCellIndex(recvB, d, i)
				s   = m.MapCellIndex(rel, d, g, recvB.Loc.Level)
				src int64
				par int64
			)
			switch rel.LevelDelta {
			case 0:
				src = s
			case -1:
				src, par = s>>1, s&1
			case 1:
				src = 2 * s
			}
			if src < s0 || src >= s0+nx {
				if rel.LevelDelta == 1 {
					continue
				}
				err = fmt.Errorf("%w: %s maps ghost cell %d along X%d outside the sender",
					ErrBufferMismatch, rel, i, d+1)
				return
			}
			gr.recv[d] = append(gr.recv[d], i)
			gr.send[d] = append(gr.send[d], int(src-s0)+is)
			gr.parity[d] = append(gr.parity[d], par)
		}
		if len(gr.recv[d]) == 0 {
			err = fmt.Errorf("%w: %s has an empty ghost region along X%d",
				ErrBufferMismatch, rel, d+1)
			return
		}
	}
	return
}
