package sse

import (
	"sort"
	"sync"
	"time"

	"biotutor/internal/logging"
	"biotutor/internal/session"
)

const subscriberBuffer = 100

// Publisher fans events out to the subscribers of a session. While a session
// has no subscriber, events accumulate in a bounded pending buffer that is
// drained, sorted by timestamp, into the next subscriber. Delivery to a
// connected subscriber is best-effort and non-blocking so one slow consumer
// never stalls the producer or its peers.
type Publisher struct {
	mu          sync.Mutex
	subscribers map[string][]chan Event
	pending     map[string][]Event
	pendingCap  int
	logger      logging.Logger
	metrics     *Metrics
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPendingCap overrides the per-session pending buffer capacity.
func WithPendingCap(cap int) Option {
	return func(p *Publisher) {
		if cap > 0 {
			p.pendingCap = cap
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Publisher) {
		p.logger = logging.OrNop(logger)
	}
}

// WithMetrics overrides the metrics instance, for tests with fresh registries.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = metrics
	}
}

// NewPublisher builds a publisher with a default pending cap of 100.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		subscribers: make(map[string][]chan Event),
		pending:     make(map[string][]Event),
		pendingCap:  100,
		logger:      logging.NewComponentLogger("Publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = defaultMetrics()
	}
	return p
}

// Subscribe registers a new receive channel for a session. Any events
// buffered while the session had no subscriber are delivered first, in
// timestamp order, then the buffer is cleared.
func (p *Publisher) Subscribe(sessionID string) chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)

	if buffered := p.pending[sessionID]; len(buffered) > 0 {
		sort.SliceStable(buffered, func(i, j int) bool {
			return buffered[i].Timestamp.Before(buffered[j].Timestamp)
		})
		for _, event := range buffered {
			select {
			case ch <- event:
				p.metrics.incPublished("replay")
			default:
				p.metrics.incDropped("subscriber_buffer_full")
			}
		}
		p.metrics.addBuffered(-float64(len(buffered)))
		delete(p.pending, sessionID)
		p.logger.Info("Flushed %d pending events to new subscriber for session %s", len(buffered), sessionID)
	}

	p.subscribers[sessionID] = append(p.subscribers[sessionID], ch)
	p.metrics.addSubscribers(1)
	p.logger.Info("Subscriber registered for session %s (total: %d)", sessionID, len(p.subscribers[sessionID]))
	return ch
}

// Unsubscribe removes a channel from the subscriber set and closes it. Empty
// subscriber sets are dropped entirely.
func (p *Publisher) Unsubscribe(sessionID string, ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[sessionID]
	for i, sub := range subs {
		if sub == ch {
			p.subscribers[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			p.metrics.addSubscribers(-1)
			p.logger.Info("Subscriber removed from session %s (remaining: %d)", sessionID, len(p.subscribers[sessionID]))

			if len(p.subscribers[sessionID]) == 0 {
				delete(p.subscribers, sessionID)
			}
			break
		}
	}
}

// Publish constructs an event with a server-assigned timestamp and delivers
// it to every subscriber, or buffers it when nobody is connected.
func (p *Publisher) Publish(sessionID, eventType string, data map[string]any) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subscribers[sessionID]
	if len(subs) == 0 {
		buffered := append(p.pending[sessionID], event)
		if len(buffered) > p.pendingCap {
			// FIFO eviction: the oldest pending event is dropped.
			buffered = buffered[len(buffered)-p.pendingCap:]
			p.metrics.incDropped("pending_buffer_evicted")
		} else {
			p.metrics.addBuffered(1)
		}
		p.pending[sessionID] = buffered
		p.logger.Debug("Buffered event %s for session %s (pending: %d)", eventType, sessionID, len(buffered))
		return
	}

	for i, ch := range subs {
		select {
		case ch <- event:
			p.metrics.incPublished("live")
		default:
			// Subscriber buffer full; skip rather than block the producer.
			p.logger.Warn("Subscriber buffer full for session %s, dropping event %s (subscriber %d/%d)", sessionID, eventType, i+1, len(subs))
			p.metrics.incDropped("subscriber_buffer_full")
		}
	}
}

// PublishTaskCompleted publishes the semantic event for a completed task.
func (p *Publisher) PublishTaskCompleted(sessionID string, task session.TaskName, data map[string]any) {
	eventType, ok := EventTypeForTask(task)
	if !ok {
		p.logger.Warn("No event type mapped for task %s", task)
		return
	}
	p.Publish(sessionID, eventType, data)
}

// PublishTaskFailed publishes a uniform failure payload for a task.
func (p *Publisher) PublishTaskFailed(sessionID string, task session.TaskName, errMsg string) {
	p.Publish(sessionID, "task_failed", map[string]any{
		"task":  string(task),
		"error": errMsg,
	})
}

// PublishSessionComplete signals that every analysis task settled.
func (p *Publisher) PublishSessionComplete(sessionID string, data map[string]any) {
	p.Publish(sessionID, "session_complete", data)
}

// HasSubscribers reports whether anyone is connected to a session.
func (p *Publisher) HasSubscribers(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers[sessionID]) > 0
}

// PendingCount reports the number of buffered events for a session.
func (p *Publisher) PendingCount(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending[sessionID])
}

// ClearSession drops both the subscriber set and the pending buffer, called
// on session deletion. Remaining subscriber channels are closed.
func (p *Publisher) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subscribers[sessionID] {
		close(ch)
		p.metrics.addSubscribers(-1)
	}
	delete(p.subscribers, sessionID)

	if buffered := len(p.pending[sessionID]); buffered > 0 {
		p.metrics.addBuffered(-float64(buffered))
	}
	delete(p.pending, sessionID)
	p.logger.Info("Cleared publisher state for session %s", sessionID)
}
