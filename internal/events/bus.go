// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (reasoning loop, tool
// dispatcher, retrieval engine) to subscribers (WebSocket handler, MQTT
// publisher). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceLoop identifies events from the reasoning loop controller.
	SourceLoop = "loop"
	// SourceTools identifies events from the tool dispatcher.
	SourceTools = "tools"
	// SourceRetrieval identifies events from the hybrid search engine.
	SourceRetrieval = "retrieval"
	// SourceAPI identifies events from the HTTP API server.
	SourceAPI = "api"
)

// Kind constants describe the type of event within a source.
const (
	// KindSessionStart signals the beginning of a reasoning session.
	// Data: request_id, conversation_id.
	KindSessionStart = "session_start"
	// KindPhaseStart signals a loop phase has begun.
	// Data: request_id, phase, step.
	KindPhaseStart = "phase_start"
	// KindPhaseDone signals a loop phase has completed.
	// Data: request_id, phase, step, duration_ms.
	KindPhaseDone = "phase_done"
	// KindSessionDone signals the end of a reasoning session.
	// Data: request_id, conversation_id, steps, elapsed_ms, ok.
	KindSessionDone = "session_done"

	// KindToolCall signals the start of a tool execution.
	// Data: execution_id, request_id, tool, action.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: execution_id, request_id, tool, action, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindSearch signals a hybrid search completed.
	// Data: request_id, vector_hits, lexical_hits, fused, duration_ms.
	KindSearch = "search"
	// KindCacheFlush signals a bulk cache invalidation.
	// Data: keys.
	KindCacheFlush = "cache_flush"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
