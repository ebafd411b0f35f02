package comm

import (
	"errors"
	"fmt"
)

var (
	ErrTagOverflow = errors.New("comm: tag field out of range")
	ErrBadRank     = errors.New("comm: rank out of range")
	ErrClosed      = errors.New("comm: transport closed")
)

const (
	numDirections = 27
	directionBits = 5
	stageBits     = 11
	blockBits     = 24

	stageShift    = directionBits
	senderShift   = stageShift + stageBits
	receiverShift = senderShift + blockBits

	directionMask = 1<<directionBits - 1
	stageMask     = 1<<stageBits - 1
	blockMask     = 1<<blockBits - 1
)

// Tag identifies one ghost message: the sending and receiving block GIDs,
// the stage and the receiver's direction index
type Tag struct {
	Sender, Receiver int
	Stage            int
	Direction        int
}

func (t Tag) String() string {
	return fmt.Sprintf("%d->%d stage %d dir %d", t.Sender, t.Receiver, t.Stage, t.Direction)
}

// Key packs the tag into one integer. Stages wrap, only adjacent stages are
// ever in flight together.
func (t Tag) Key() (key uint64, err error) {
	switch {
	case t.Direction < 0 || t.Direction >= numDirections:
		err = fmt.Errorf("%w: direction %d", ErrTagOverflow, t.Direction)
	case t.Sender < 0 || t.Sender > blockMask:
		err = fmt.Errorf("%w: sender %d", ErrTagOverflow, t.Sender)
	case t.Receiver < 0 || t.Receiver > blockMask:
		err = fmt.Errorf("%w: receiver %d", ErrTagOverflow, t.Receiver)
	case t.Stage < 0:
		err = fmt.Errorf("%w: stage %d", ErrTagOverflow, t.Stage)
	}
	if err != nil {
		return
	}
	key = uint64(t.Receiver)<<receiverShift |
		uint64(t.Sender)<<senderShift |
		uint64(t.Stage&stageMask)<<stageShift |
		uint64(t.Direction)
	return
}

func ParseKey(key uint64) Tag {
	return Tag{
		Receiver:  int(key >> receiverShift & blockMask),
		Sender:    int(key >> senderShift & blockMask),
		Stage:     int(key >> stageShift & stageMask),
		Direction: int(key & directionMask),
	}
}
