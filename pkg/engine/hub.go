package engine

import (
	"context"

	"quatstream/pkg/protocol"
)

// Hub fans decoded readings out to subscribers. A full subscriber misses the
// reading instead of stalling the others.
type Hub struct {
	broadcast   chan protocol.Reading
	register    chan chan protocol.Reading
	unregister  chan chan protocol.Reading
	clients     map[chan protocol.Reading]struct{}
	clientBuf   int
	dropHandler func()
	done        chan struct{}
}

type Option func(*Hub)

func WithBroadcastBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan protocol.Reading, size)
		}
	}
}

func WithClientBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

// WithDropHandler is called from Run each time a subscriber misses a reading.
func WithDropHandler(fn func()) Option {
	return func(h *Hub) {
		if fn != nil {
			h.dropHandler = fn
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		broadcast:  make(chan protocol.Reading, 256),
		register:   make(chan chan protocol.Reading),
		unregister: make(chan chan protocol.Reading),
		clients:    make(map[chan protocol.Reading]struct{}),
		clientBuf:  100,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers readings until ctx is done, then closes every subscriber channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case reading := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- reading:
				default:
					if h.dropHandler != nil {
						h.dropHandler()
					}
				}
			}
		}
	}
}

func (h *Hub) Subscribe() chan protocol.Reading {
	return h.SubscribeWithBuffer(h.clientBuf)
}

// SubscribeWithBuffer registers a subscriber. After Run has returned the
// channel comes back already closed.
func (h *Hub) SubscribeWithBuffer(size int) chan protocol.Reading {
	if size <= 0 {
		size = h.clientBuf
	}
	ch := make(chan protocol.Reading, size)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub) Unsubscribe(ch chan protocol.Reading) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues a reading, waiting while the broadcast buffer is full. It
// reports false if ctx ends or the hub has stopped first.
func (h *Hub) Publish(ctx context.Context, reading protocol.Reading) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- reading:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}
