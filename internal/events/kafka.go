package events

import (
	"context"
	"time"

	"reserva/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic. Delivery is best effort:
// when the buffer is full the event is dropped and logged.
type KafkaSink struct {
	writer MessageWriter
	queue  chan Event
	logger *zerolog.Logger
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

func NewKafkaSink(writer MessageWriter, bufferSize int, logger *zerolog.Logger) *KafkaSink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &KafkaSink{writer: writer, queue: make(chan Event, bufferSize), logger: logger}
}

// Attach subscribes the sink to every event type on bus.
func (s *KafkaSink) Attach(bus *EventBus) {
	bus.SubscribeAll(s.enqueue)
}

func (s *KafkaSink) enqueue(event *Event) error {
	select {
	case s.queue <- *event:
	default:
		s.logger.Warn().Str("type", event.Type).Str("key", event.Key).Msg("event sink buffer full, dropping event")
	}
	return nil
}

// Run drains the buffer until ctx is done, then flushes what is left and closes the writer.
func (s *KafkaSink) Run(ctx context.Context) error {
	defer func() {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close kafka writer")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case event := <-s.queue:
			s.write(ctx, event)
		}
	}
}

func (s *KafkaSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-s.queue:
			s.write(ctx, event)
		default:
			return
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, event Event) {
	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("type", event.Type).Str("key", event.Key).Msg("failed to publish event")
	}
}
