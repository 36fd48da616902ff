// Package kafka consumes record batches and publishes resolution events
package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	// EventGoldenRecordCreated is emitted once per golden record
	EventGoldenRecordCreated = "golden_record.created"
	// EventMatchCandidateCreated is emitted once per match candidate
	EventMatchCandidateCreated = "match_candidate.created"

	schemaVersion = "1.0"
)

// ErrEmptyBatch is returned for a batch message without records
var ErrEmptyBatch = errors.New("record batch has no records")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

func newIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

// ParseRecordBatch decodes the message value as a record batch.
// A batch without an id takes the message key.
func (m *IncomingMessage) ParseRecordBatch() (models.RecordBatch, error) {
	var batch models.RecordBatch
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		return batch, fmt.Errorf("invalid record batch at %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	if len(batch.Records) == 0 {
		return batch, ErrEmptyBatch
	}
	if batch.BatchID == "" {
		batch.BatchID = m.Key
	}
	return batch, nil
}

// GoldenRecordEvent announces a golden record produced by a run.
// AttributesHash changes only when the merged attributes change, so consumers
// can skip events for a fingerprint whose content they already hold.
type GoldenRecordEvent struct {
	EventType       string                 `json:"event_type"`
	RunID           string                 `json:"run_id"`
	BatchID         string                 `json:"batch_id,omitempty"`
	GoldenID        string                 `json:"golden_id"`
	EntityType      string                 `json:"entity_type"`
	Fingerprint     string                 `json:"fingerprint"`
	Attributes      models.Attributes      `json:"attributes"`
	AttributesHash  string                 `json:"attributes_hash"`
	SourceRecordIDs []string               `json:"source_record_ids"`
	Lineage         []models.LineageEntry  `json:"lineage"`
	Conflicts       []models.MergeConflict `json:"conflicts,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// MatchCandidateEvent announces a match candidate found by a run
type MatchCandidateEvent struct {
	EventType    string             `json:"event_type"`
	RunID        string             `json:"run_id"`
	BatchID      string             `json:"batch_id,omitempty"`
	RecordAID    string             `json:"record_a_id"`
	RecordBID    string             `json:"record_b_id"`
	Score        float64            `json:"score"`
	EntityType   string             `json:"entity_type"`
	BlockKey     string             `json:"block_key"`
	MatchReasons []string           `json:"match_reasons"`
	FieldScores  map[string]float64 `json:"field_scores,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

func newGoldenRecordEvent(runID, batchID string, golden models.GoldenRecord, now time.Time) *GoldenRecordEvent {
	return &GoldenRecordEvent{
		EventType:       EventGoldenRecordCreated,
		RunID:           runID,
		BatchID:         batchID,
		GoldenID:        golden.GoldenID,
		EntityType:      golden.EntityType,
		Fingerprint:     golden.Fingerprint,
		Attributes:      golden.Attributes,
		AttributesHash:  fingerprint.Attributes(golden.Attributes),
		SourceRecordIDs: golden.SourceRecordIDs,
		Lineage:         golden.Lineage,
		Conflicts:       golden.Conflicts,
		Timestamp:       now,
	}
}

func newMatchCandidateEvent(runID, batchID string, c models.MatchCandidate, now time.Time) *MatchCandidateEvent {
	return &MatchCandidateEvent{
		EventType:    EventMatchCandidateCreated,
		RunID:        runID,
		BatchID:      batchID,
		RecordAID:    c.RecordAID,
		RecordBID:    c.RecordBID,
		Score:        c.Score,
		EntityType:   c.EntityType,
		BlockKey:     c.BlockKey,
		MatchReasons: c.MatchReasons,
		FieldScores:  c.FieldScores,
		Timestamp:    now,
	}
}

func encode(topic, key, eventType, entityType string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "entity_type", Value: []byte(entityType)},
			{Key: "schema_version", Value: []byte(schemaVersion)},
		},
	}, nil
}
