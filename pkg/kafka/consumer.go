package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BatchRunner runs the resolution pipeline for one batch
type BatchRunner interface {
	Run(ctx context.Context, batch models.RecordBatch) (*resolution.Result, error)
}

// messageReader is the part of kafka.Reader the consumer needs
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Consumer reads record batches and resolves each one
type Consumer struct {
	reader messageReader
	logger ectologger.Logger
	runner BatchRunner
	topic  string
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, runner BatchRunner, logger ectologger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    50e6, // 50MB, batches are large
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	return newConsumer(reader, cfg.Topic, runner, logger)
}

func newConsumer(reader messageReader, topic string, runner BatchRunner, logger ectologger.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		logger: logger,
		runner: runner,
		topic:  topic,
	}
}

// Start begins consuming messages in the background
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop stops the consumer and waits for the in-flight batch
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage resolves one batch. The offset is committed after a
// successful run or for a message that can never be parsed. A failed run is
// not committed, but the next commit on the partition moves the group offset
// past it, so the batch is redelivered only if the consumer restarts or the
// group rebalances before that commit.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &msg.Headers})
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	incoming := newIncomingMessage(msg)
	batch, err := incoming.ParseRecordBatch()
	if err != nil {
		metrics.RecordKafkaBatch("invalid")
		log.WithError(err).Error("Failed to parse record batch")
		c.commit(ctx, log, msg)
		return
	}

	result, err := c.runner.Run(ctx, batch)
	if err != nil {
		metrics.RecordKafkaBatch("failed")
		log.WithError(err).WithField("batch_id", batch.BatchID).Error("Failed to resolve record batch (not committing)")
		return
	}

	metrics.RecordKafkaBatch("success")
	log.WithFields(map[string]any{
		"batch_id":       batch.BatchID,
		"run_id":         result.RunID,
		"golden_records": len(result.GoldenRecords),
	}).Info("Resolved record batch")

	c.commit(ctx, log, msg)
}

func (c *Consumer) commit(ctx context.Context, log ectologger.Logger, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
}
