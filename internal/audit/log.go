package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"admin-gateway/internal/model"
	"admin-gateway/internal/util"
)

// Sink receives every recorded event. Implementations must tolerate being
// called from a single background goroutine; a failing sink is logged and
// skipped, never propagated to the recorder.
type Sink interface {
	Write(ctx context.Context, event model.SecurityEvent) error
	Close() error
}

// Log is the in-memory security event log: an append-only buffer capped at
// a fixed size, oldest entries dropped first. Recording is synchronous for
// the buffer and asynchronous for sinks.
type Log struct {
	mu     sync.RWMutex
	events []model.SecurityEvent
	cap    int

	sinks   []Sink
	pending chan model.SecurityEvent
	done    chan struct{}
	closed  sync.Once

	logger *zap.Logger
}

const defaultCap = 1000

// NewLog creates a security event log. Sinks are optional.
func NewLog(capacity int, logger *zap.Logger, sinks ...Sink) *Log {
	if capacity <= 0 {
		capacity = defaultCap
	}
	l := &Log{
		events:  make([]model.SecurityEvent, 0, capacity),
		cap:     capacity,
		sinks:   sinks,
		pending: make(chan model.SecurityEvent, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
	if len(sinks) > 0 {
		go l.dispatch()
	}
	return l
}

// Record appends an event, truncating from the front when the buffer is
// full. A zero ID or timestamp is filled in.
func (l *Log) Record(event model.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > l.cap {
		l.events = l.events[len(l.events)-l.cap:]
	}
	l.mu.Unlock()

	if len(l.sinks) > 0 {
		select {
		case l.pending <- event:
		default:
			// Sinks are best effort; never block the request path
			l.logger.Warn("audit sink queue full, dropping event",
				util.String("event_type", string(event.Type)))
		}
	}
}

// Query returns up to limit events, most recent first, optionally filtered
// by user id.
func (l *Log) Query(userID string, limit int) []model.SecurityEvent {
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.SecurityEvent, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		if userID != "" && l.events[i].UserID != userID {
			continue
		}
		out = append(out, l.events[i])
	}
	return out
}

// Len reports the number of buffered events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

func (l *Log) dispatch() {
	for {
		select {
		case event := <-l.pending:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			for _, sink := range l.sinks {
				if err := sink.Write(ctx, event); err != nil {
					l.logger.Error("audit sink write failed",
						util.String("event_id", event.ID),
						util.ErrorField(err))
				}
			}
			cancel()
		case <-l.done:
			return
		}
	}
}

// Close stops the sink dispatcher and closes all sinks.
func (l *Log) Close() {
	l.closed.Do(func() {
		close(l.done)
		for _, sink := range l.sinks {
			if err := sink.Close(); err != nil {
				l.logger.Error("failed to close audit sink", util.ErrorField(err))
			}
		}
	})
}
