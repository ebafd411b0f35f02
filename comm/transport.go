package comm

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/notargets/goamr/utils"
)

// Message carries one packed ghost buffer between ranks
type Message struct {
	Tag        Tag
	Key        uint64
	From, To   int // Ranks
	RelationID int
	Data       []float64
}

// Transport is the message layer between ranks
type Transport interface {
	Size() int
	Send(msg Message) error
	// Poll hands every message for stage that has arrived on rank to handle
	// and returns without waiting
	Poll(rank, stage int, handle func(Message) error) (n int, err error)
	Barrier(ctx context.Context, rank int) error
	AllReduceMax(ctx context.Context, rank int, v float64) (float64, error)
}

type generation struct {
	done   chan struct{}
	count  int
	max    float64
	closed bool
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{}), max: math.Inf(-1)}
}

// ChannelTransport connects ranks running as goroutines of one process. Each
// rank posts into its own outbox of a MailBox; Poll drains the inbox.
type ChannelTransport struct {
	NP     int
	mb     *utils.MailBox[Message]
	outMu  []sync.Mutex // Several scheduler threads of one rank may send at once
	stash  []map[int][]Message
	bmu    sync.Mutex
	gen    *generation
	closed bool
}

var _ Transport = (*ChannelTransport)(nil)

func NewChannelTransport(np, depth int) (ct *ChannelTransport) {
	ct = &ChannelTransport{
		NP:    np,
		mb:    utils.NewMailBox[Message](np, depth),
		outMu: make([]sync.Mutex, np),
		stash: make([]map[int][]Message, np),
		gen:   newGeneration(),
	}
	for r := range ct.stash {
		ct.stash[r] = make(map[int][]Message)
	}
	return
}

func (ct *ChannelTransport) Size() int { return ct.NP }

func (ct *ChannelTransport) checkRank(r int) error {
	if r < 0 || r >= ct.NP {
		return fmt.Errorf("%w: %d of %d", ErrBadRank, r, ct.NP)
	}
	return nil
}

// Send copies msg.Data and queues the message for its target rank
func (ct *ChannelTransport) Send(msg Message) (err error) {
	if err = ct.checkRank(msg.From); err != nil {
		return
	}
	if err = ct.checkRank(msg.To); err != nil {
		return
	}
	if msg.Key, err = msg.Tag.Key(); err != nil {
		return
	}
	msg.Data = append([]float64(nil), msg.Data...)
	ct.outMu[msg.From].Lock()
	defer ct.outMu[msg.From].Unlock()
	ct.mb.PostMessage(msg.From, msg.To, msg)
	ct.mb.DeliverMyMessages(msg.From)
	return
}

func (ct *ChannelTransport) Poll(rank, stage int, handle func(Message) error) (n int, err error) {
	if err = ct.checkRank(rank); err != nil {
		return
	}
	ct.outMu[rank].Lock()
	ct.mb.DeliverMyMessages(rank)
	ct.outMu[rank].Unlock()
	ct.mb.ReceiveMyMessages(rank)
	var (
		stash = ct.stash[rank]
		msgs  = append(stash[stage], ct.mb.TakeMyMessages(rank)...)
	)
	delete(stash, stage)
	for i, msg := range msgs {
		if msg.Tag.Stage != stage {
			log.Trace().Int("rank", rank).Int("stage", stage).Str("tag", msg.Tag.String()).
				Msg("stashing message for another stage")
			stash[msg.Tag.Stage] = append(stash[msg.Tag.Stage], msg)
			continue
		}
		if err = handle(msg); err != nil {
			// Keep what was not handled for a later look
			for _, rest := range msgs[i+1:] {
				stash[rest.Tag.Stage] = append(stash[rest.Tag.Stage], rest)
			}
			return n, fmt.Errorf("message %s from rank %d: %w", msg.Tag, msg.From, err)
		}
		n++
	}
	return
}

// Pending reports the number of stashed messages held for rank
func (ct *ChannelTransport) Pending(rank int) (n int) {
	for _, msgs := range ct.stash[rank] {
		n += len(msgs)
	}
	return
}

// Flush waits until the outbox of rank has been handed to every target inbox
func (ct *ChannelTransport) Flush(ctx context.Context, rank int) (err error) {
	if err = ct.checkRank(rank); err != nil {
		return
	}
	for {
		ct.outMu[rank].Lock()
		pending := ct.mb.DeliverMyMessages(rank)
		ct.outMu[rank].Unlock()
		if !pending {
			return
		}
		if err = ctx.Err(); err != nil {
			return
		}
		runtime.Gosched()
	}
}

// Barrier returns once every rank has entered it
func (ct *ChannelTransport) Barrier(ctx context.Context, rank int) (err error) {
	_, err = ct.AllReduceMax(ctx, rank, 0)
	return
}

// AllReduceMax is a barrier that also returns the maximum of v over ranks.
// The outbox of rank is flushed first.
func (ct *ChannelTransport) AllReduceMax(ctx context.Context, rank int, v float64) (float64, error) {
	if err := ct.Flush(ctx, rank); err != nil {
		return 0, err
	}
	ct.bmu.Lock()
	if ct.closed {
		ct.bmu.Unlock()
		return 0, ErrClosed
	}
	g := ct.gen
	g.count++
	g.max = max(g.max, v)
	if g.count == ct.NP {
		ct.gen = newGeneration()
		close(g.done)
		ct.bmu.Unlock()
		return g.max, nil
	}
	ct.bmu.Unlock()
	select {
	case <-g.done:
		if g.closed {
			return 0, ErrClosed
		}
		return g.max, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close releases ranks waiting at a barrier; later barriers fail
func (ct *ChannelTransport) Close() {
	ct.bmu.Lock()
	defer ct.bmu.Unlock()
	if !ct.closed {
		ct.closed = true
		ct.gen.closed = true
		close(ct.gen.done)
	}
}
