package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process hub wiring channel adapters, the agent
// runtime, and connected WebSocket clients together. It implements both
// EventPublisher (fan-out broadcast to subscribers) and MessageRouter
// (buffered inbound/outbound message queues between channels and agents).
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]EventHandler

	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

const defaultQueueSize = 256

// New creates a MessageBus with default-sized inbound/outbound queues.
func New() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]EventHandler),
		inbound:     make(chan InboundMessage, defaultQueueSize),
		outbound:    make(chan OutboundMessage, defaultQueueSize),
	}
}

// Subscribe registers a handler under id, replacing any existing handler
// with the same id.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes the handler registered under id, if any.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers event to every current subscriber. Handlers run
// synchronously on the calling goroutine in subscriber-registration-order-
// independent order; callers that need delivery off the hot path should
// invoke Broadcast from its own goroutine.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// PublishInbound enqueues a message for the agent runtime to consume.
// Drops the message (logging is the caller's responsibility) if the queue
// is full, so a stalled consumer cannot block channel adapters forever.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message for delivery back to its channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

var (
	_ EventPublisher = (*MessageBus)(nil)
	_ MessageRouter  = (*MessageBus)(nil)
)
