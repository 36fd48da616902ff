package kafka

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// messageWriter is the part of kafka.Writer the producer needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers     []string
	GoldenTopic string
	// CandidateTopic is optional; candidate events are skipped when empty
	CandidateTopic string
	BatchSize      int
	BatchTimeout   time.Duration
	RequiredAcks   int
	Compression    string
}

// Producer publishes resolution results. It implements resolution.Sink.
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	config ProducerConfig
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression(cfg.Compression),
		AllowAutoTopicCreation: true,
	}

	return newProducer(writer, cfg, logger)
}

func newProducer(writer messageWriter, cfg ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func compression(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	default:
		return kafka.Snappy
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Name implements resolution.Sink
func (p *Producer) Name() string {
	return "kafka"
}

// Write publishes one event per golden record and, when a candidate topic
// is configured, one event per match candidate.
func (p *Producer) Write(ctx context.Context, result *resolution.Result) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Write")
	defer span.End()

	now := p.now()

	golden := make([]kafka.Message, 0, len(result.GoldenRecords))
	for _, g := range result.GoldenRecords {
		msg, err := encode(p.config.GoldenTopic, g.GoldenID, EventGoldenRecordCreated, g.EntityType,
			newGoldenRecordEvent(result.RunID, result.BatchID, g, now))
		if err != nil {
			return err
		}
		golden = append(golden, p.withTrace(ctx, msg))
	}
	if err := p.publish(ctx, p.config.GoldenTopic, golden); err != nil {
		return err
	}

	if p.config.CandidateTopic == "" {
		return nil
	}

	candidates := make([]kafka.Message, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		msg, err := encode(p.config.CandidateTopic, c.PairKey(), EventMatchCandidateCreated, c.EntityType,
			newMatchCandidateEvent(result.RunID, result.BatchID, c, now))
		if err != nil {
			return err
		}
		candidates = append(candidates, p.withTrace(ctx, msg))
	}
	return p.publish(ctx, p.config.CandidateTopic, candidates)
}

func (p *Producer) withTrace(ctx context.Context, msg kafka.Message) kafka.Message {
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{headers: &msg.Headers})
	return msg
}

func (p *Producer) publish(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      topic,
		"batch_size": len(messages),
	})

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaPublish(topic, "failed", len(messages))
		log.WithError(err).Error("Failed to publish events batch")
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", len(messages))
	log.Debug("Published events batch")
	return nil
}
