package event

import (
	"sync"

	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"go.uber.org/zap"
)

// ChannelID identifies a channel within one Pipeline.
type ChannelID uint32

// SubscriptionID identifies one subscriber for Unsubscribe.
type SubscriptionID uint64

// Handler receives one message together with the frame's state.
type Handler func(s *ecs.GameState, msg any)

type subscriber struct {
	id SubscriptionID
	fn Handler
}

type channel struct {
	name string
	// copy-on-write: a flush may hold an old slice while Subscribe swaps it
	subs []subscriber
}

type slot struct {
	ch  ChannelID
	msg any
}

// Pipeline is one program's event registry. Every channel of the program
// shares a single FIFO of pending messages, stored in recycled slots.
// Send is safe from any goroutine; FlushAll is called by the owning program
// once per frame.
type Pipeline struct {
	name string
	log  *zap.Logger

	mu       sync.Mutex
	channels []*channel
	slots    []slot
	free     []int32
	queue    []int32
	spare    []int32
	nextSub  SubscriptionID

	flushMu sync.Mutex
}

func NewPipeline(name string, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		name:     name,
		log:      log,
		channels: make([]*channel, 0, 8),
		slots:    make([]slot, 0, 64),
		queue:    make([]int32, 0, 64),
		spare:    make([]int32, 0, 64),
	}
}

func (p *Pipeline) Name() string { return p.name }

// NewChannel registers an untyped channel.
func (p *Pipeline) NewChannel(name string) ChannelID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, &channel{name: name})
	return ChannelID(len(p.channels) - 1)
}

// ChannelName returns the channel's name, or "" for an unknown id.
func (p *Pipeline) ChannelName(id ChannelID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.channels) {
		return ""
	}
	return p.channels[id].name
}

// SubscribeRaw appends fn to the channel's subscribers. Subscribers of one
// message are invoked in subscription order.
func (p *Pipeline) SubscribeRaw(id ChannelID, fn Handler) SubscriptionID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.channels[id]
	p.nextSub++
	subs := make([]subscriber, len(ch.subs), len(ch.subs)+1)
	copy(subs, ch.subs)
	ch.subs = append(subs, subscriber{id: p.nextSub, fn: fn})
	return p.nextSub
}

func (p *Pipeline) Unsubscribe(id ChannelID, sub SubscriptionID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(id) >= len(p.channels) {
		return false
	}
	ch := p.channels[id]
	for i, s := range ch.subs {
		if s.id == sub {
			subs := make([]subscriber, 0, len(ch.subs)-1)
			subs = append(subs, ch.subs[:i]...)
			ch.subs = append(subs, ch.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pipeline) subscribers(id ChannelID) []subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[id].subs
}

// SendRaw enqueues msg for the next flush and returns immediately.
func (p *Pipeline) SendRaw(id ChannelID, msg any) {
	p.mu.Lock()
	var idx int32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[idx] = slot{ch: id, msg: msg}
	} else {
		idx = int32(len(p.slots))
		p.slots = append(p.slots, slot{ch: id, msg: msg})
	}
	p.queue = append(p.queue, idx)
	p.mu.Unlock()
}

// SendRawSync delivers msg to every current subscriber before returning.
// The queue is not touched.
func (p *Pipeline) SendRawSync(s *ecs.GameState, id ChannelID, msg any) {
	for _, sub := range p.subscribers(id) {
		sub.fn(s, msg)
	}
}

// Pending returns the number of queued messages.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// FlushAll delivers every message queued before the call, in enqueue order
// across all channels. Messages sent while flushing wait for the next flush.
func (p *Pipeline) FlushAll(s *ecs.GameState) int {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	queue := p.queue
	p.queue = p.spare[:0]
	pending := make([]slot, len(queue))
	for i, idx := range queue {
		pending[i] = p.slots[idx]
		p.slots[idx] = slot{}
		p.free = append(p.free, idx)
	}
	p.spare = queue[:0]
	p.mu.Unlock()

	for _, m := range pending {
		for _, sub := range p.subscribers(m.ch) {
			sub.fn(s, m.msg)
		}
	}
	if len(pending) > 0 {
		p.log.Debug("events flushed",
			zap.String("pipeline", p.name),
			zap.Int("messages", len(pending)))
	}
	return len(pending)
}
