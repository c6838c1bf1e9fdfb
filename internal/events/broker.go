// Package events fans session lifecycle and command events out to
// in-process subscribers (the websocket stream, tests, tooling).
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/shellpane/shellpane/pkg/types"
)

type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[chan types.Event]struct{} // sessionID -> subscribers
	dropped atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan types.Event]struct{})}
}

// Subscribe registers a buffered channel for one session's events. The
// empty session id subscribes to everything.
func (b *Broker) Subscribe(sessionID string, buf int) chan types.Event {
	if buf <= 0 {
		buf = 100
	}
	ch := make(chan types.Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sessionID]; !ok {
		b.subs[sessionID] = make(map[chan types.Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(sessionID string, ch chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[sessionID]; ok {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, sessionID)
		}
	}
	close(ch)
}

// Publish delivers ev to the session's subscribers and to wildcard
// subscribers. Slow subscribers drop rather than block the engine.
func (b *Broker) Publish(ev types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{ev.SessionID, ""} {
		for ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
				count := b.dropped.Add(1)
				if count == 1 || count%100 == 0 {
					slog.Warn("events: dropped event on slow subscriber",
						"session_id", ev.SessionID, "kind", ev.Kind, "total_dropped", count)
				}
			}
		}
	}
}

// Dropped returns the total number of events dropped on slow subscribers.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }
