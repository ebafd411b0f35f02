package bvals

import (
	"fmt"

	"github.com/notargets/goamr/mesh"
	"github.com/notargets/goamr/metrics"
	"github.com/notargets/goamr/utils"
)

// RemoteSender delivers a packed buffer to the rank owning the receiver
type RemoteSender func(rel *mesh.NeighborRelation, stage int, data []float64) error

// Exchange moves ghost data for the blocks of one rank
type Exchange struct {
	Mesh     *mesh.Mesh
	Rank     int
	Buffers  *BufferSet
	Physical *PhysicalBoundaries
	Remote   RemoteSender
}

func NewExchange(m *mesh.Mesh, rank int, pb *PhysicalBoundaries, remote RemoteSender) (ex *Exchange, err error) {
	ex = &Exchange{Mesh: m, Rank: rank, Physical: pb, Remote: remote}
	if ex.Buffers, err = NewBufferSet(m, rank); err != nil {
		return
	}
	err = ex.Buffers.ValidateRuntime()
	return
}

func (ex *Exchange) relation(id int) (rel *mesh.NeighborRelation, err error) {
	if rel, err = ex.Mesh.Relation(id); err != nil {
		err = fmt.Errorf("%w: %w", ErrBufferMismatch, err)
	}
	return
}

// Pack fills buf with the ghost values src provides to the receiver of rel,
// in the receiver's ghost iteration order
func (ex *Exchange) Pack(src *mesh.Block, rel *mesh.NeighborRelation, buf *BoundaryBuffer) (err error) {
	gr, ok := ex.Buffers.regions[buf.RelationID]
	if !ok || rel.NeighborID != src.GID || len(buf.Data) != ex.Buffers.NVar*gr.Cells() {
		return fmt.Errorf("%w: cannot pack %s into buffer %d", ErrBufferMismatch, rel, buf.RelationID)
	}
	var (
		fa    = src.Fields
		dim   = ex.Mesh.Config.Dim
		specs = ex.Mesh.Config.Fields
		idx   int
	)
	for n := 0; n < fa.NVar; n++ {
		sign := 1.
		if rel.Polar {
			if vd := specs[n].Kind.VectorDim(); vd == 1 || vd == 2 {
				sign = -1
			}
		}
		for kk := range gr.recv[2] {
			for jj := range gr.recv[1] {
				for ii := range gr.recv[0] {
					var (
						s = [3]int{gr.send[0][ii], gr.send[1][jj], gr.send[2][kk]}
						v float64
					)
					switch rel.LevelDelta {
					case 0:
						v = fa.At(n, s[2], s[1], s[0])
					case -1:
						parity := [3]int64{gr.parity[0][ii], gr.parity[1][jj], gr.parity[2][kk]}
						v = mesh.ProlongateCell(fa, n, s, parity, dim)
					case 1:
						v = mesh.RestrictCell(src, n, s, dim)
					}
					buf.Data[idx] = sign * v
					idx++
				}
			}
		}
	}
	if rel.LevelDelta != 0 && utils.IsNan(buf.Data) {
		return fmt.Errorf("%w: packing %s", ErrNumerical, rel)
	}
	return
}

// Unpack copies buf into the ghost region of dst selected by rel
func (ex *Exchange) Unpack(buf *BoundaryBuffer, dst *mesh.Block, rel *mesh.NeighborRelation) error {
	gr, ok := ex.Buffers.regions[buf.RelationID]
	if !ok || rel.BlockID != dst.GID || len(buf.Data) != ex.Buffers.NVar*gr.Cells() {
		return fmt.Errorf("%w: cannot unpack buffer %d into %s", ErrBufferMismatch, buf.RelationID, rel)
	}
	switch rel.LevelDelta {
	case 0:
		SetBoundarySameLevel(buf.Data, dst.Fields, gr)
	case -1:
		SetBoundaryFromCoarser(buf.Data, dst.Fields, gr)
	case 1:
		SetBoundaryFromFiner(buf.Data, dst.Fields, gr)
	default:
		return fmt.Errorf("%w: %s", mesh.ErrTopologyViolation, rel)
	}
	return nil
}

func SetBoundarySameLevel(data []float64, fa *mesh.FieldArray, gr *ghostRegion) {
	setBoundary(data, fa, gr)
}

// SetBoundaryFromCoarser stores values already prolongated by the sender
func SetBoundaryFromCoarser(data []float64, fa *mesh.FieldArray, gr *ghostRegion) {
	setBoundary(data, fa, gr)
}

// SetBoundaryFromFiner stores values already restricted by the sender
func SetBoundaryFromFiner(data []float64, fa *mesh.FieldArray, gr *ghostRegion) {
	setBoundary(data, fa, gr)
}

func setBoundary(data []float64, fa *mesh.FieldArray, gr *ghostRegion) {
	var idx int
	for n := 0; n < fa.NVar; n++ {
		for _, k := range gr.recv[2] {
			for _, j := range gr.recv[1] {
				for _, i := range gr.recv[0] {
					fa.Set(n, k, j, i, data[idx])
					idx++
				}
			}
		}
	}
}

// SendBoundaryBuffers packs every buffer b provides and publishes it, or
// hands it to the transport when the receiver lives on another rank
func (ex *Exchange) SendBoundaryBuffers(b *mesh.Block, stage int) (err error) {
	for _, id := range ex.Buffers.SendIDs[b.GID] {
		var (
			rel *mesh.NeighborRelation
			bb  = ex.Buffers.Buffers[id]
		)
		if rel, err = ex.relation(id); err != nil {
			return
		}
		if err = ex.Pack(b, rel, bb); err != nil {
			return
		}
		remote := ex.Mesh.Blocks[rel.BlockID].Rank != ex.Rank
		metrics.RecordExchange(rel.LevelDelta, len(bb.Data), remote)
		if !remote {
			bb.Publish(stage, BufferFilled)
			continue
		}
		if ex.Remote == nil {
			return fmt.Errorf("%w: no transport for remote %s", ErrBufferMismatch, rel)
		}
		if err = ex.Remote(rel, stage, bb.Data); err != nil {
			return
		}
		bb.Publish(stage, BufferSent)
	}
	return
}

// ReceiveBoundaryBuffers reports whether every ghost buffer of b holds data
// for stage. It never blocks.
func (ex *Exchange) ReceiveBoundaryBuffers(b *mesh.Block, stage int) (done bool, err error) {
	for _, id := range ex.Buffers.RecvIDs[b.GID] {
		if !ex.Buffers.Buffers[id].Ready(stage) {
			return
		}
	}
	done = true
	return
}

// SetBoundaries unpacks every received buffer of b
func (ex *Exchange) SetBoundaries(b *mesh.Block, stage int) (err error) {
	for _, id := range ex.Buffers.RecvIDs[b.GID] {
		var (
			rel *mesh.NeighborRelation
			bb  = ex.Buffers.Buffers[id]
		)
		if !bb.Ready(stage) {
			return fmt.Errorf("%w: buffer %d not ready for stage %d (%s)",
				ErrBufferMismatch, id, stage, bb.State())
		}
		if rel, err = ex.relation(id); err != nil {
			return
		}
		if err = ex.Unpack(bb, b, rel); err != nil {
			return
		}
		bb.setState(BufferConsumed)
	}
	return
}

// ApplyPhysicalBoundaries fills the ghosts on the domain faces of b
func (ex *Exchange) ApplyPhysicalBoundaries(b *mesh.Block, time float64) error {
	if ex.Physical == nil {
		return nil
	}
	return ex.Physical.Apply(b, time)
}

// Deliver stores a payload arriving from another rank
func (ex *Exchange) Deliver(relationID, stage int, data []float64) error {
	return ex.Buffers.SetReceiveBuffer(relationID, stage, data)
}
