package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Writer is the kafka-go writer surface the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes outbox messages to topics named after their type,
// keyed by project so one project's messages stay ordered per partition.
type KafkaPublisher struct {
	writer      Writer
	topicPrefix string
}

// NewKafkaPublisher builds a publisher over a kafka-go writer for brokers.
func NewKafkaPublisher(brokers []string, topicPrefix string) (*KafkaPublisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			addrs = append(addrs, broker)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	return NewKafkaPublisherWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, topicPrefix), nil
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(writer Writer, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topicPrefix: topicPrefix}
}

// Publish writes msg with its command id and project as headers.
func (p *KafkaPublisher) Publish(ctx context.Context, msg storage.OutboxMessage) error {
	key := msg.Key
	if key == "" {
		key = msg.ProjectID
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topicPrefix + msg.Topic,
		Key:   []byte(key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "outbox_id", Value: []byte(msg.ID)},
			{Key: "command_id", Value: []byte(msg.CommandID)},
			{Key: "project_id", Value: []byte(msg.ProjectID)},
		},
		Time: msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Topic, err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs messages instead of delivering them. It is used when no
// broker is configured.
type LogPublisher struct {
	logger log.FieldLogger
}

// NewLogPublisher builds a publisher over logger.
func NewLogPublisher(logger log.FieldLogger) *LogPublisher {
	return &LogPublisher{logger: logging.OrDiscard(logger)}
}

// Publish logs msg at info level.
func (p *LogPublisher) Publish(_ context.Context, msg storage.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"topic":      msg.Topic,
		"project_id": msg.ProjectID,
		"command_id": msg.CommandID,
		"payload":    string(msg.Payload),
	}).Info("outbox message")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
