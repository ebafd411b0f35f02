package bvals

import (
	"fmt"
	"sync/atomic"
)

type BufferState int32

const (
	BufferEmpty BufferState = iota
	BufferFilled
	BufferSent
	BufferReceived
	BufferConsumed
)

func (bs BufferState) String() string {
	return [...]string{"Empty", "Filled", "Sent", "Received", "Consumed"}[bs]
}

// BufferKey identifies the ghost region of Receiver filled by Sender in the
// receiver's direction index
type BufferKey struct {
	Sender, Receiver, Direction int
}

// BoundaryBuffer carries one relation's ghost data. Exactly one producer
// writes Data and then publishes the state; the consumer reads Data only
// after observing Filled or Received for its stage.
type BoundaryBuffer struct {
	Key        BufferKey
	RelationID int
	Data       []float64
	stage      atomic.Int64
	state      atomic.Int32
}

func NewBoundaryBuffer(key BufferKey, relationID, size int) *BoundaryBuffer {
	return &BoundaryBuffer{
		Key:        key,
		RelationID: relationID,
		Data:       make([]float64, size),
	}
}

func (bb *BoundaryBuffer) State() BufferState { return BufferState(bb.state.Load()) }

func (bb *BoundaryBuffer) Stage() int { return int(bb.stage.Load()) }

func (bb *BoundaryBuffer) setState(s BufferState) { bb.state.Store(int32(s)) }

// Reset empties the buffer for a new stage
func (bb *BoundaryBuffer) Reset(stage int) {
	bb.stage.Store(int64(stage))
	bb.setState(BufferEmpty)
}

// Publish marks locally packed data as ready for stage
func (bb *BoundaryBuffer) Publish(stage int, s BufferState) {
	bb.stage.Store(int64(stage))
	bb.setState(s)
}

// Ready reports whether data for stage can be unpacked
func (bb *BoundaryBuffer) Ready(stage int) bool {
	s := bb.State()
	return (s == BufferFilled || s == BufferReceived) && bb.Stage() == stage
}

// SetReceiveData stores a payload received from another rank
func (bb *BoundaryBuffer) SetReceiveData(data []float64, stage int) error {
	if len(data) != len(bb.Data) {
		return fmt.Errorf("%w: relation %d expected %d values, got %d",
			ErrBufferMismatch, bb.RelationID, len(bb.Data), len(data))
	}
	copy(bb.Data, data)
	bb.Publish(stage, BufferReceived)
	return nil
}
