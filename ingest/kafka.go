// Package ingest carries security events into the SIEM from transports
// other than the HTTP API: a Kafka topic consumer and a fail-open helper
// for in-process producers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"watchtower/core"
	"watchtower/metrics"
	"watchtower/storage"
	"watchtower/util/goroutine"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	sourceKafka = "kafka"

	defaultRetryBackoff = 2 * time.Second
	maxRetryBackoff     = time.Minute
	processTimeout      = 30 * time.Second
	contentTypeHeader   = "content-type"
)

// Recorder is the ingestion contract; *service.SIEM implements it
type Recorder interface {
	RecordEvent(ctx context.Context, in core.EventInput) (*core.SecurityEvent, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig locates the ingest topic
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// RetryBackoff is the first pause after a storage failure; it doubles
	// up to a minute while the failure persists
	RetryBackoff time.Duration
}

// NewKafkaReader builds a consumer-group reader with manual commits
func NewKafkaReader(cfg KafkaConfig, logger *zap.SugaredLogger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafka.FirstOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debugw(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Errorw(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})
}

// KafkaConsumer feeds a topic into a Recorder. A message is committed once
// it is recorded or rejected as invalid; a storage failure leaves it
// uncommitted and retries it after a backoff, preserving partition order.
type KafkaConsumer struct {
	reader   MessageReader
	recorder Recorder
	dlq      DeadLetterWriter
	backoff  time.Duration
	logger   *zap.SugaredLogger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	recorded atomic.Int64
	rejected atomic.Int64
	retries  atomic.Int64
}

// NewKafkaConsumer creates a consumer. dlq may be nil.
func NewKafkaConsumer(reader MessageReader, recorder Recorder, dlq DeadLetterWriter, backoff time.Duration, logger *zap.SugaredLogger) *KafkaConsumer {
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &KafkaConsumer{
		reader:   reader,
		recorder: recorder,
		dlq:      dlq,
		backoff:  backoff,
		logger:   logger,
	}
}

// Start runs the consume loop in a goroutine until Stop or ctx ends
func (c *KafkaConsumer) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return errors.New("kafka consumer already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)

	goroutine.Go(&c.wg, "kafka-consumer", c.logger, func() { c.run(ctx) })

	c.logger.Info("Kafka consumer started")
	return nil
}

// Stop cancels the loop, waits for the in-flight message and closes the reader
func (c *KafkaConsumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	c.logger.Infow("Kafka consumer stopped",
		"recorded", c.recorded.Load(),
		"rejected", c.rejected.Load(),
		"retries", c.retries.Load())

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}

// Stats returns recorded, rejected and retried message counts
func (c *KafkaConsumer) Stats() (recorded, rejected, retries int64) {
	return c.recorded.Load(), c.rejected.Load(), c.retries.Load()
}

func (c *KafkaConsumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Errorw("Failed to fetch kafka message", "error", err)
			if !sleepCtx(ctx, c.backoff) {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			// cancelled while retrying; the message stays uncommitted
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Errorw("Failed to commit kafka offset",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// process handles one message until it is recorded or rejected. It
// returns false only when ctx ended first.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) bool {
	in, err := DecodeEvent(msg.Value, headerValue(msg, contentTypeHeader))
	if err != nil {
		c.reject(ctx, msg, ReasonDecode, err)
		return true
	}
	if in.ID == "" {
		// redelivery after a crash maps to the same event id and is
		// reported as a duplicate instead of stored twice
		in.ID = messageEventID(msg)
	}

	backoff := c.backoff
	for {
		err := c.record(ctx, in)
		switch {
		case err == nil:
			c.recorded.Add(1)
			metrics.IngestMessages.WithLabelValues(sourceKafka, "recorded").Inc()
			return true

		case errors.Is(err, storage.ErrDuplicateEvent):
			metrics.IngestMessages.WithLabelValues(sourceKafka, "duplicate").Inc()
			c.logger.Debugw("Kafka message already recorded", "event_id", in.ID, "offset", msg.Offset)
			return true

		case errors.Is(err, core.ErrValidation):
			c.reject(ctx, msg, ReasonValidation, err)
			return true
		}

		if ctx.Err() != nil {
			return false
		}
		c.retries.Add(1)
		metrics.IngestMessages.WithLabelValues(sourceKafka, "retried").Inc()
		c.logger.Warnw("Failed to record kafka message, will retry",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"backoff", backoff, "error", err)
		if !sleepCtx(ctx, backoff) {
			return false
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

func (c *KafkaConsumer) record(ctx context.Context, in core.EventInput) error {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()
	_, err := c.recorder.RecordEvent(ctx, in)
	return err
}

func (c *KafkaConsumer) reject(ctx context.Context, msg kafka.Message, reason string, err error) {
	c.rejected.Add(1)
	metrics.IngestMessages.WithLabelValues(sourceKafka, "rejected").Inc()
	c.logger.Warnw("Rejected kafka message",
		"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
		"reason", reason, "error", err)

	if c.dlq == nil {
		return
	}
	if dlqErr := c.dlq.Add(ctx, FailedMessage{
		Source:      sourceKafka,
		Origin:      messageOrigin(msg),
		ContentType: headerValue(msg, contentTypeHeader),
		Payload:     msg.Value,
		Reason:      reason,
		Details:     err.Error(),
	}); dlqErr != nil {
		c.logger.Errorw("Failed to dead-letter kafka message", "offset", msg.Offset, "error", dlqErr)
	}
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

func messageOrigin(msg kafka.Message) string {
	return msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10)
}

func messageEventID(msg kafka.Message) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("kafka://"+messageOrigin(msg))).String()
}

// sleepCtx waits d, returning false if ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
