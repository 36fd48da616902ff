package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeWriter struct {
	err      error
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func testResult() *resolution.Result {
	return &resolution.Result{
		RunID:   "run-1",
		BatchID: "batch-1",
		Candidates: []models.MatchCandidate{
			{RecordAID: "r1", RecordBID: "r2", Score: 0.93, EntityType: "person", BlockKey: "person_J"},
		},
		GoldenRecords: []models.GoldenRecord{
			{
				GoldenID:        "g1",
				EntityType:      "person",
				Attributes:      models.Attributes{"name": models.String("John Smith")},
				SourceRecordIDs: []string{"r1", "r2"},
				Fingerprint:     "fp",
			},
		},
	}
}

func TestIncomingMessage_ParseRecordBatch(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		wantID    string
		wantCount int
		wantErr   error
	}{
		{
			name:      "batch with id",
			value:     `{"batch_id":"b1","records":[{"record_id":"r1","source_system":"crm","entity_type":"person","attributes":{"name":"Ann"}}]}`,
			wantID:    "b1",
			wantCount: 1,
		},
		{
			name:      "id from key",
			key:       "k1",
			value:     `{"records":[{"record_id":"r1","source_system":"crm","entity_type":"person","attributes":{}}]}`,
			wantID:    "k1",
			wantCount: 1,
		},
		{
			name:    "no records",
			value:   `{"batch_id":"b1","records":[]}`,
			wantErr: ErrEmptyBatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := newIncomingMessage(kafka.Message{Key: []byte(tt.key), Value: []byte(tt.value)})
			batch, err := msg.ParseRecordBatch()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, batch.BatchID)
			assert.Len(t, batch.Records, tt.wantCount)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		msg := newIncomingMessage(kafka.Message{Value: []byte(`{`)})
		_, err := msg.ParseRecordBatch()
		assert.Error(t, err)
	})
}

func TestProducer_Write(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("golden and candidate events", func(t *testing.T) {
		w := &fakeWriter{}
		p := newProducer(w, ProducerConfig{GoldenTopic: "golden", CandidateTopic: "candidates"}, testLogger())
		p.now = func() time.Time { return now }

		require.NoError(t, p.Write(context.Background(), testResult()))
		require.Len(t, w.messages, 2)

		golden := w.messages[0]
		assert.Equal(t, "golden", golden.Topic)
		assert.Equal(t, "g1", string(golden.Key))
		assert.Equal(t, EventGoldenRecordCreated, header(golden, "event_type"))
		assert.Equal(t, "person", header(golden, "entity_type"))

		var event GoldenRecordEvent
		require.NoError(t, json.Unmarshal(golden.Value, &event))
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "batch-1", event.BatchID)
		assert.Equal(t, []string{"r1", "r2"}, event.SourceRecordIDs)
		assert.Equal(t, "John Smith", event.Attributes.Get("name").Text())
		assert.True(t, now.Equal(event.Timestamp))
		assert.Equal(t, fingerprint.Attributes(testResult().GoldenRecords[0].Attributes), event.AttributesHash)

		candidate := w.messages[1]
		assert.Equal(t, "candidates", candidate.Topic)
		assert.Equal(t, EventMatchCandidateCreated, header(candidate, "event_type"))

		var cEvent MatchCandidateEvent
		require.NoError(t, json.Unmarshal(candidate.Value, &cEvent))
		assert.Equal(t, 0.93, cEvent.Score)
		assert.Equal(t, "person_J", cEvent.BlockKey)
	})

	t.Run("no candidate topic", func(t *testing.T) {
		w := &fakeWriter{}
		p := newProducer(w, ProducerConfig{GoldenTopic: "golden"}, testLogger())

		require.NoError(t, p.Write(context.Background(), testResult()))
		assert.Len(t, w.messages, 1)
	})

	t.Run("empty result publishes nothing", func(t *testing.T) {
		w := &fakeWriter{}
		p := newProducer(w, ProducerConfig{GoldenTopic: "golden", CandidateTopic: "candidates"}, testLogger())

		require.NoError(t, p.Write(context.Background(), &resolution.Result{RunID: "run-2"}))
		assert.Empty(t, w.messages)
	})

	t.Run("writer failure", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("broker down")}
		p := newProducer(w, ProducerConfig{GoldenTopic: "golden"}, testLogger())

		assert.Error(t, p.Write(context.Background(), testResult()))
	})
}

func TestCompression(t *testing.T) {
	assert.Equal(t, kafka.Gzip, compression("gzip"))
	assert.Equal(t, kafka.Zstd, compression("zstd"))
	assert.Equal(t, kafka.Snappy, compression(""))
	assert.Equal(t, kafka.Compression(0), compression("none"))
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeRunner struct {
	mu      sync.Mutex
	err     error
	batches []models.RecordBatch
}

func (r *fakeRunner) Run(_ context.Context, batch models.RecordBatch) (*resolution.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	if r.err != nil {
		return nil, r.err
	}
	return &resolution.Result{RunID: "run"}, nil
}

func TestConsumer_processMessage(t *testing.T) {
	valid := kafka.Message{
		Offset: 1,
		Value:  []byte(`{"batch_id":"b1","records":[{"record_id":"r1","source_system":"crm","entity_type":"person","attributes":{"name":"Ann"}}]}`),
	}

	t.Run("commits after successful run", func(t *testing.T) {
		reader := &fakeReader{}
		runner := &fakeRunner{}
		c := newConsumer(reader, "batches", runner, testLogger())

		c.processMessage(context.Background(), valid)

		require.Len(t, runner.batches, 1)
		assert.Equal(t, "b1", runner.batches[0].BatchID)
		assert.Equal(t, []int64{1}, reader.Committed())
	})

	t.Run("does not commit a failed run", func(t *testing.T) {
		reader := &fakeReader{}
		runner := &fakeRunner{err: errors.New("lock held")}
		c := newConsumer(reader, "batches", runner, testLogger())

		c.processMessage(context.Background(), valid)

		assert.Empty(t, reader.Committed())
	})

	t.Run("later commit moves past a failed run", func(t *testing.T) {
		reader := &fakeReader{}
		runner := &fakeRunner{err: errors.New("lock held")}
		c := newConsumer(reader, "batches", runner, testLogger())

		c.processMessage(context.Background(), valid)
		assert.Empty(t, reader.Committed())

		runner.err = nil
		next := valid
		next.Offset = 2
		c.processMessage(context.Background(), next)

		require.Len(t, runner.batches, 2)
		assert.Equal(t, []int64{2}, reader.Committed())
	})

	t.Run("commits an unparseable message without running", func(t *testing.T) {
		reader := &fakeReader{}
		runner := &fakeRunner{}
		c := newConsumer(reader, "batches", runner, testLogger())

		c.processMessage(context.Background(), kafka.Message{Offset: 7, Value: []byte("not json")})

		assert.Empty(t, runner.batches)
		assert.Equal(t, []int64{7}, reader.Committed())
	})
}

func TestConsumer_StartStop(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{{
		Offset: 3,
		Value:  []byte(`{"batch_id":"b1","records":[{"record_id":"r1","source_system":"crm","entity_type":"person","attributes":{}}]}`),
	}}}
	runner := &fakeRunner{}
	c := newConsumer(reader, "batches", runner, testLogger())

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return len(reader.Committed()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop())
}

func TestHeaderCarrier(t *testing.T) {
	var headers []kafka.Header
	c := headerCarrier{headers: &headers}

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	c.Set("tracestate", "x")

	assert.Equal(t, "b", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", "tracestate"}, c.Keys())
	assert.Equal(t, "", c.Get("missing"))
}
