package event

import "github.com/l1jgo/ecsrt/internal/core/ecs"

// Source is anything a system can be triggered by: a channel of one
// pipeline.
type Source interface {
	Pipeline() *Pipeline
	ID() ChannelID
}

// Channel is a typed handle to a channel of one program's pipeline.
type Channel[T any] struct {
	pipe *Pipeline
	id   ChannelID
}

// Define registers a channel carrying messages of type T.
func Define[T any](p *Pipeline, name string) Channel[T] {
	return Channel[T]{pipe: p, id: p.NewChannel(name)}
}

func (c Channel[T]) Pipeline() *Pipeline { return c.pipe }
func (c Channel[T]) ID() ChannelID       { return c.id }
func (c Channel[T]) Valid() bool         { return c.pipe != nil }

// Send enqueues msg for the owning program's next flush.
func (c Channel[T]) Send(msg T) {
	c.pipe.SendRaw(c.id, msg)
}

// SendSync delivers msg to every current subscriber inline.
func (c Channel[T]) SendSync(s *ecs.GameState, msg T) {
	c.pipe.SendRawSync(s, c.id, msg)
}

func (c Channel[T]) Subscribe(fn func(*ecs.GameState, T)) SubscriptionID {
	return c.pipe.SubscribeRaw(c.id, func(s *ecs.GameState, msg any) {
		v, _ := msg.(T)
		fn(s, v)
	})
}

func (c Channel[T]) Unsubscribe(id SubscriptionID) bool {
	return c.pipe.Unsubscribe(c.id, id)
}
