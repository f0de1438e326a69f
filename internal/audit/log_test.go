package audit

import (
	"fmt"
	"testing"

	"go.uber.org/zap"

	"admin-gateway/internal/model"
)

func TestRecordCapsBuffer(t *testing.T) {
	log := NewLog(10, zap.NewNop())

	for i := 0; i < 25; i++ {
		log.Record(model.SecurityEvent{
			Type:    model.EventLogin,
			UserID:  "admin-1",
			Details: fmt.Sprintf("event %d", i),
		})
	}

	if got := log.Len(); got != 10 {
		t.Fatalf("expected buffer capped at 10, got %d", got)
	}

	// The oldest surviving entry should be event 15
	events := log.Query("", 10)
	oldest := events[len(events)-1]
	if oldest.Details != "event 15" {
		t.Fatalf("expected oldest surviving event 15, got %q", oldest.Details)
	}
}

func TestQueryMostRecentFirst(t *testing.T) {
	log := NewLog(100, zap.NewNop())
	log.Record(model.SecurityEvent{Type: model.EventLogin, Details: "first"})
	log.Record(model.SecurityEvent{Type: model.EventLogout, Details: "second"})
	log.Record(model.SecurityEvent{Type: model.EventTokenRefresh, Details: "third"})

	events := log.Query("", 100)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Details != "third" || events[2].Details != "first" {
		t.Fatalf("expected most-recent-first ordering, got %q .. %q", events[0].Details, events[2].Details)
	}
}

func TestQueryFiltersByUser(t *testing.T) {
	log := NewLog(100, zap.NewNop())
	log.Record(model.SecurityEvent{Type: model.EventLogin, UserID: "a"})
	log.Record(model.SecurityEvent{Type: model.EventLogin, UserID: "b"})
	log.Record(model.SecurityEvent{Type: model.EventFailedLogin, UserID: "a"})

	events := log.Query("a", 100)
	if len(events) != 2 {
		t.Fatalf("expected 2 events for user a, got %d", len(events))
	}
	for _, e := range events {
		if e.UserID != "a" {
			t.Fatalf("unexpected user in filtered results: %s", e.UserID)
		}
	}
}

func TestQueryLimit(t *testing.T) {
	log := NewLog(100, zap.NewNop())
	for i := 0; i < 20; i++ {
		log.Record(model.SecurityEvent{Type: model.EventLogin})
	}
	if got := len(log.Query("", 5)); got != 5 {
		t.Fatalf("expected limit of 5 respected, got %d", got)
	}
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	log := NewLog(10, zap.NewNop())
	log.Record(model.SecurityEvent{Type: model.EventSuspiciousActivity})

	e := log.Query("", 1)[0]
	if e.ID == "" {
		t.Fatal("expected generated event id")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set")
	}
}
