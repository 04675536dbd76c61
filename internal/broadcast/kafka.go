package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/config"
)

// KafkaTransport uses a Kafka topic as the tab bus. Every tab must see every
// delta, so it reads all partitions directly instead of joining a consumer group.
type KafkaTransport struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	logger   *zap.Logger

	mu         sync.Mutex
	partitions []sarama.PartitionConsumer
	wg         sync.WaitGroup
}

// NewKafkaTransport connects a producer and a consumer to the configured brokers.
func NewKafkaTransport(cfg *config.KafkaConfig, topic string, logger *zap.Logger) (*KafkaTransport, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	// Set connection timeouts to prevent hanging
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	consumer, err := sarama.NewConsumer(cfg.Brokers, saramaConfig)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewKafkaTransportFromClients(producer, consumer, topic, logger), nil
}

// NewKafkaTransportFromClients wraps existing sarama clients.
func NewKafkaTransportFromClients(producer sarama.SyncProducer, consumer sarama.Consumer, topic string, logger *zap.Logger) *KafkaTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaTransport{
		producer: producer,
		consumer: consumer,
		topic:    topic,
		logger:   logger.With(zap.String("transport", "kafka"), zap.String("topic", topic)),
	}
}

// Publish produces payload to the topic synchronously.
func (t *KafkaTransport) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	msg := &sarama.ProducerMessage{
		Topic: t.topic,
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := t.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message to topic %s: %w", t.topic, err)
	}
	return nil
}

// Subscribe consumes every partition from the newest offset.
func (t *KafkaTransport) Subscribe(ctx context.Context, handler func([]byte)) error {
	ids, err := t.consumer.Partitions(t.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", t.topic, err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("topic %s has no partitions", t.topic)
	}

	started := make([]sarama.PartitionConsumer, 0, len(ids))
	for _, id := range ids {
		pc, err := t.consumer.ConsumePartition(t.topic, id, sarama.OffsetNewest)
		if err != nil {
			for _, p := range started {
				p.AsyncClose()
			}
			return fmt.Errorf("failed to consume partition %d of %s: %w", id, t.topic, err)
		}
		started = append(started, pc)
	}

	t.mu.Lock()
	t.partitions = append(t.partitions, started...)
	t.mu.Unlock()

	for _, pc := range started {
		t.wg.Add(1)
		go t.pump(ctx, pc, handler)
	}
	return nil
}

func (t *KafkaTransport) pump(ctx context.Context, pc sarama.PartitionConsumer, handler func([]byte)) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			handler(msg.Value)
		}
	}
}

// Close stops the partition consumers and closes both clients.
func (t *KafkaTransport) Close() error {
	t.mu.Lock()
	partitions := t.partitions
	t.partitions = nil
	t.mu.Unlock()

	var errs []error
	for _, pc := range partitions {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.wg.Wait()

	if err := t.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close kafka consumer: %w", err))
	}
	if err := t.producer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close kafka producer: %w", err))
	}
	return errors.Join(errs...)
}
