package utils

import "fmt"

// MailBox moves batches of messages between a fixed set of threads (ranks).
// Each thread posts only into its own outbox and reads only its own inbox, so
// no locking is needed beyond the channels themselves.
type MailBox[T any] struct {
	NP           int
	MessageChans []chan []T    // One inbox for each thread
	PostMsgQs    []map[int][]T // One outbox for each thread, key is target thread
	ReceiveMsgQs [][]T         // One for each thread
	MailFlag     []bool        // MyThread has messages in its outbox
}

func NewMailBox[T any](NP, depth int) *MailBox[T] {
	if depth < NP {
		depth = NP // Worst case is all-to-all
	}
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan []T, NP),
		PostMsgQs:    make([]map[int][]T, NP),
		ReceiveMsgQs: make([][]T, NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan []T, depth)
		mb.PostMsgQs[n] = make(map[int][]T)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myThread, targetThread int, msg T) {
	if targetThread < 0 || targetThread > mb.NP-1 {
		panic(fmt.Sprintf("Target thread %d out of bounds", targetThread))
	}
	mb.PostMsgQs[myThread][targetThread] = append(mb.PostMsgQs[myThread][targetThread], msg)
	if !mb.MailFlag[myThread] {
		mb.MailFlag[myThread] = true
	}
}

// DeliverMyMessages hands every outbox batch to its target inbox without
// blocking. A batch whose inbox is full stays queued for the next call.
// Returns true when something is still waiting to be delivered.
func (mb *MailBox[T]) DeliverMyMessages(myThread int) (pending bool) {
	if !mb.MailFlag[myThread] {
		return
	}
	for targetThread, msgs := range mb.PostMsgQs[myThread] {
		if len(msgs) == 0 {
			continue
		}
		select {
		case mb.MessageChans[targetThread] <- msgs:
			mb.PostMsgQs[myThread][targetThread] = nil
		default:
			pending = true
		}
	}
	mb.MailFlag[myThread] = pending
	return
}

// ReceiveMyMessages drains the inbox of myThread without blocking.
func (mb *MailBox[T]) ReceiveMyMessages(myThread int) {
	for {
		select {
		case msgs := <-mb.MessageChans[myThread]:
			mb.ReceiveMsgQs[myThread] = append(mb.ReceiveMsgQs[myThread], msgs...)
		default:
			return
		}
	}
}

// TakeMyMessages returns everything received so far and empties the queue.
func (mb *MailBox[T]) TakeMyMessages(myThread int) (msgs []T) {
	msgs = mb.ReceiveMsgQs[myThread]
	mb.ReceiveMsgQs[myThread] = nil
	return
}

// PartitionMap splits the index range [0, MaxIndex) into ParallelDegree
// contiguous chunks differing in size by at most one
type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// This routine splits one dimension into c.ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
