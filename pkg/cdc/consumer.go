package cdc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/adtechlabs/adsync/pkg/config"
	"github.com/adtechlabs/adsync/pkg/metrics"
	"github.com/adtechlabs/adsync/pkg/models"
)

// Consumer reads Debezium topics through a sarama consumer group and feeds
// decoded events to the applier.
//
// Delivery is at-least-once: offsets are marked and committed only after an
// entire polled batch has been routed and applied, so a crash between apply
// and commit re-delivers the batch. The sink's replace-on-conflict merge
// makes re-application idempotent. On stop the in-flight batch is finished
// before the claim returns; no event is abandoned mid-apply.
type Consumer struct {
	cfg     config.KafkaConfig
	applier *Applier
	logger  *zap.Logger

	client sarama.Client
	group  sarama.ConsumerGroup

	running int32
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer bound to the configured topics.
func NewConsumer(cfg config.KafkaConfig, applier *Applier, logger *zap.Logger) *Consumer {
	return &Consumer{
		cfg:     cfg,
		applier: applier,
		logger:  logger.With(zap.String("component", "cdc_consumer")),
		stopCh:  make(chan struct{}),
	}
}

// Start connects to the brokers and begins consuming in a background
// goroutine. It returns an error only for startup failures; consume-loop
// errors are logged and retried.
func (c *Consumer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return fmt.Errorf("consumer is already running")
	}

	saramaCfg := c.buildSaramaConfig()

	var err error
	c.client, err = sarama.NewClient(c.cfg.Brokers, saramaCfg)
	if err != nil {
		return fmt.Errorf("failed to create Kafka client: %w", err)
	}

	c.group, err = sarama.NewConsumerGroupFromClient(c.cfg.GroupID, c.client)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.wg.Add(1)
	go c.consume(ctx)

	c.logger.Info("subscribed to Kafka topics",
		zap.Strings("topics", c.cfg.Topics()),
		zap.String("consumer_group", c.cfg.GroupID))
	return nil
}

// consume runs the consumer group loop until stopped.
func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := c.group.Consume(ctx, c.cfg.Topics(), c); err != nil {
				c.logger.Error("consumer group error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}
}

// buildSaramaConfig builds the sarama configuration. Auto-commit stays off;
// offsets are committed explicitly after each applied batch.
func (c *Consumer) buildSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "adsync-stream"
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = false
	cfg.Consumer.Return.Errors = true

	switch c.cfg.AutoOffsetReset {
	case "earliest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return cfg
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler. Messages are
// accumulated into poll batches bounded by MaxPollRecords and PollTimeout;
// each full batch is applied sequentially and then acknowledged in one
// commit.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	pollTimeout := c.cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}

	batch := make([]*sarama.ConsumerMessage, 0, c.cfg.MaxPollRecords)
	timer := time.NewTimer(pollTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.processBatch(session, batch)
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			batch = append(batch, msg)
			if len(batch) >= c.cfg.MaxPollRecords {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(pollTimeout)
		case <-session.Context().Done():
			// Finish the in-flight batch, then exit. No mid-event
			// cancellation.
			flush()
			return nil
		}
	}
}

// processBatch routes every message in the batch, marks each offset, and
// commits once at the end.
func (c *Consumer) processBatch(session sarama.ConsumerGroupSession, batch []*sarama.ConsumerMessage) {
	ctx := context.Background()

	for _, msg := range batch {
		c.processMessage(ctx, msg)
		session.MarkMessage(msg, "")
	}
	session.Commit()

	c.logger.Debug("committed poll batch", zap.Int("events", len(batch)))
}

// processMessage decodes and applies a single message. Decode failures are
// logged and skipped; the offset is still marked so a poison message cannot
// wedge the partition.
func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	ev, err := models.DecodeChangeEvent(msg.Topic, msg.Partition, msg.Offset, msg.Value)
	if err != nil {
		c.logger.Warn("failed to decode change event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		metrics.SyncErrors.WithLabelValues("unknown", "decode").Inc()
		return
	}

	c.applier.Apply(ctx, ev)
}

// Stop shuts the consumer down, waiting for the consume loop to finish its
// in-flight work.
func (c *Consumer) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return fmt.Errorf("consumer is not running")
	}

	close(c.stopCh)

	if c.group != nil {
		if err := c.group.Close(); err != nil {
			c.logger.Error("failed to close consumer group", zap.Error(err))
		}
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.logger.Error("failed to close Kafka client", zap.Error(err))
		}
	}

	c.wg.Wait()
	c.logger.Info("CDC consumer stopped",
		zap.Any("applied", c.applier.Counts()))
	return nil
}
