// Package eventbus provides in-process fan-out of typed events.
package eventbus

// Bus is the publish/subscribe contract implemented by TypedBus.
type Bus[T any] interface {
	Publish(T)
	Subscribe() <-chan T
	Unsubscribe(<-chan T)
	Close()
}

// DefaultBuffer is the channel capacity of a subscriber.
const DefaultBuffer = 8

var _ Bus[int] = (*TypedBus[int])(nil)
