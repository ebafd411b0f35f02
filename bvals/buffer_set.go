package bvals

import (
	"fmt"

	"github.com/notargets/goamr/mesh"
)

// BufferSet holds the boundary buffers a rank touches: one per relation whose
// sender or receiver lives on the rank. A relation with both ends local has a
// single shared buffer; a remote relation has one buffer on each side and the
// payload is copied by the transport.
type BufferSet struct {
	Rank    int
	NVar    int
	Buffers map[int]*BoundaryBuffer // Relation ID -> buffer
	regions map[int]*ghostRegion
	// Relation IDs per local block
	SendIDs map[int][]int
	RecvIDs map[int][]int
	// Relations whose receiver lives on another rank, keyed by that rank
	RemoteSends map[int][]int
	// Relations whose sender lives on another rank, keyed by that rank
	RemoteRecvs map[int][]int
}

func NewBufferSet(m *mesh.Mesh, rank int) (bs *BufferSet, err error) {
	if !m.TopologyValid() {
		err = fmt.Errorf("%w: %w", ErrBufferMismatch, mesh.ErrTopologyStale)
		return
	}
	bs = &BufferSet{
		Rank:        rank,
		NVar:        m.NVar(),
		Buffers:     make(map[int]*BoundaryBuffer),
		regions:     make(map[int]*ghostRegion),
		SendIDs:     make(map[int][]int),
		RecvIDs:     make(map[int][]int),
		RemoteSends: make(map[int][]int),
		RemoteRecvs: make(map[int][]int),
	}
	for id := range m.Relations {
		var (
			rel       = &m.Relations[id]
			recvRank  = m.Blocks[rel.BlockID].Rank
			sendRank  = m.Blocks[rel.NeighborID].Rank
			recvLocal = recvRank == rank
			sendLocal = sendRank == rank
			gr        *ghostRegion
		)
		if !recvLocal && !sendLocal {
			continue
		}
		if gr, err = newGhostRegion(m, rel); err != nil {
			return
		}
		bs.regions[id] = gr
		bs.Buffers[id] = NewBoundaryBuffer(BufferKey{
			Sender:    rel.NeighborID,
			Receiver:  rel.BlockID,
			Direction: mesh.DirectionIndex(rel.Offset),
		}, id, bs.NVar*gr.Cells())
		if sendLocal {
			bs.SendIDs[rel.NeighborID] = append(bs.SendIDs[rel.NeighborID], id)
			if !recvLocal {
				bs.RemoteSends[recvRank] = append(bs.RemoteSends[recvRank], id)
			}
		}
		if recvLocal {
			bs.RecvIDs[rel.BlockID] = append(bs.RecvIDs[rel.BlockID], id)
			if !sendLocal {
				bs.RemoteRecvs[sendRank] = append(bs.RemoteRecvs[sendRank], id)
			}
		}
	}
	return
}

// ResetStage empties every buffer for stage
func (bs *BufferSet) ResetStage(stage int) {
	for _, bb := range bs.Buffers {
		bb.Reset(stage)
	}
}

func (bs *BufferSet) Buffer(relationID int) (bb *BoundaryBuffer, err error) {
	var ok bool
	if bb, ok = bs.Buffers[relationID]; !ok {
		err = fmt.Errorf("%w: rank %d has no buffer for relation %d",
			ErrBufferMismatch, bs.Rank, relationID)
	}
	return
}

// SetReceiveBuffer stores a buffer received from a remote rank
func (bs *BufferSet) SetReceiveBuffer(relationID, stage int, data []float64) (err error) {
	var bb *BoundaryBuffer
	if bb, err = bs.Buffer(relationID); err != nil {
		return
	}
	return bb.SetReceiveData(data, stage)
}

// GetRuntimeStatistics returns buffer counts and sizes for validation
func (bs *BufferSet) GetRuntimeStatistics() map[string]int {
	var totalValues, remoteSend, remoteRecv int
	for _, bb := range bs.Buffers {
		totalValues += len(bb.Data)
	}
	for _, ids := range bs.RemoteSends {
		remoteSend += len(ids)
	}
	for _, ids := range bs.RemoteRecvs {
		remoteRecv += len(ids)
	}
	return map[string]int{
		"buffers":           len(bs.Buffers),
		"buffer_values":     totalValues,
		"remote_sends":      remoteSend,
		"remote_recvs":      remoteRecv,
		"remote_send_ranks": len(bs.RemoteSends),
		"remote_recv_ranks": len(bs.RemoteRecvs),
	}
}

// ValidateRuntime performs buffer structure validation
func (bs *BufferSet) ValidateRuntime() error {
	for id, bb := range bs.Buffers {
		gr, ok := bs.regions[id]
		if !ok {
			return fmt.Errorf("%w: buffer %d has no ghost region", ErrBufferMismatch, id)
		}
		if len(bb.Data) != bs.NVar*gr.Cells() {
			return fmt.Errorf("%w: buffer %d size mismatch: %d vs %d",
				ErrBufferMismatch, id, len(bb.Data), bs.NVar*gr.Cells())
		}
		if bb.RelationID != id {
			return fmt.Errorf("%w: buffer relation ID mismatch: %d vs %d",
				ErrBufferMismatch, bb.RelationID, id)
		}
	}
	for rank := range bs.RemoteSends {
		if rank == bs.Rank {
			return fmt.Errorf("%w: remote send list addressed to own rank %d",
				ErrBufferMismatch, rank)
		}
	}
	return nil
}
