package server

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("surface event queue is full")

// Event kinds sent to the browser.
const (
	EventDisplay = "display"
	EventExport  = "export"
)

// Event is an instruction for the browser page hosting the diagram editor.
type Event struct {
	Type      string `json:"type"`
	XML       string `json:"xml,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// queueSurface implements vcdiagram.Surface by queueing events for the
// browser to long-poll. Only the newest display matters, so a full queue
// drops older displays first; export requests are never dropped.
type queueSurface struct {
	mu     sync.Mutex
	events []Event
	limit  int
	notify chan struct{}
}

func newQueueSurface(limit int) *queueSurface {
	if limit < 1 {
		limit = 1
	}
	return &queueSurface{limit: limit, notify: make(chan struct{}, 1)}
}

func (q *queueSurface) Display(xml string) error {
	return q.push(Event{Type: EventDisplay, XML: xml})
}

func (q *queueSurface) RequestExport(requestID string) error {
	return q.push(Event{Type: EventExport, RequestID: requestID})
}

func (q *queueSurface) push(ev Event) error {
	q.mu.Lock()
	if len(q.events) >= q.limit && !q.dropOldestDisplay() {
		q.mu.Unlock()
		surfaceQueueFull.Inc()
		return ErrQueueFull
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// dropOldestDisplay must be called with mu held.
func (q *queueSurface) dropOldestDisplay() bool {
	for i, ev := range q.events {
		if ev.Type == EventDisplay {
			q.events = append(q.events[:i], q.events[i+1:]...)
			return true
		}
	}
	return false
}

func (q *queueSurface) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Next returns the queued events, waiting up to wait for one to arrive. It
// returns nil when nothing arrived in time or ctx ended.
func (q *queueSurface) Next(ctx context.Context, wait time.Duration) []Event {
	if events := q.take(); len(events) > 0 {
		return events
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if events := q.take(); len(events) > 0 {
				return events
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (q *queueSurface) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
