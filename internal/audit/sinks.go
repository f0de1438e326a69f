package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"admin-gateway/internal/client"
	"admin-gateway/internal/model"
)

// KafkaSink publishes events to the security events topic, keyed by user id
// so per-user ordering is preserved across partitions.
type KafkaSink struct {
	producer *client.KafkaProducer
}

func NewKafkaSink(producer *client.KafkaProducer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Write(ctx context.Context, event model.SecurityEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}
	return s.producer.Produce(ctx, []byte(event.UserID), value)
}

// Close is a no-op; the producer is owned by the factory.
func (s *KafkaSink) Close() error {
	return nil
}

// ClickHouseSink archives events in small batches. Rows are buffered and
// flushed when the buffer fills or on Close; a janitor-driven Flush keeps
// latency bounded on quiet systems.
type ClickHouseSink struct {
	ch    *client.ClickHouseClient
	table string

	mu   sync.Mutex
	rows [][]interface{}
}

const clickhouseBatchSize = 50

func NewClickHouseSink(ch *client.ClickHouseClient, table string) *ClickHouseSink {
	return &ClickHouseSink{ch: ch, table: table}
}

func (s *ClickHouseSink) Write(ctx context.Context, event model.SecurityEvent) error {
	s.mu.Lock()
	s.rows = append(s.rows, []interface{}{
		event.ID,
		string(event.Type),
		event.UserID,
		event.IPAddress,
		event.UserAgent,
		event.Timestamp,
		event.Details,
	})
	shouldFlush := len(s.rows) >= clickhouseBatchSize
	s.mu.Unlock()

	if shouldFlush {
		return s.Flush(ctx)
	}
	return nil
}

// Flush sends any buffered rows.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	rows := s.rows
	s.rows = nil
	s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (event_id, event_type, user_id, ip_address, user_agent, event_time, details)",
		s.table,
	)
	if err := s.ch.BatchInsert(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to archive security events: %w", err)
	}
	return nil
}

// Close flushes remaining rows; the ClickHouse connection itself is
// owned by the factory.
func (s *ClickHouseSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

// ESSink indexes events for dashboard search. It also implements Searcher
// so the events endpoint can query the index when it is enabled.
type ESSink struct {
	es     *client.ESClient
	index  string
	logger *zap.Logger
}

// Searcher is the read side the events endpoint uses when a search index
// is configured; the ring buffer remains the fallback.
type Searcher interface {
	SearchEvents(ctx context.Context, userID string, limit int) ([]model.SecurityEvent, error)
}

func NewESSink(es *client.ESClient, index string, logger *zap.Logger) *ESSink {
	return &ESSink{es: es, index: index, logger: logger}
}

func (s *ESSink) Write(ctx context.Context, event model.SecurityEvent) error {
	return s.es.IndexDocument(ctx, s.index, event.ID, event)
}

// Close is a no-op; the Elasticsearch client is owned by the factory.
func (s *ESSink) Close() error {
	return nil
}

func (s *ESSink) SearchEvents(ctx context.Context, userID string, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]interface{}{"order": "desc"}},
		},
	}
	if userID != "" {
		query["query"] = map[string]interface{}{
			"term": map[string]interface{}{"user_id": userID},
		}
	}

	res, err := s.es.Search(ctx, s.index, query)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source model.SecurityEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.es.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	events := make([]model.SecurityEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}
