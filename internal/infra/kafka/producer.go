package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, message []byte) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// brokersが空ならログに出すだけのProducerを返す
func NewProducer(brokers []string, l *zap.Logger) Producer {
	l = l.With(zap.String("component", "kafka_producer"))
	if len(brokers) == 0 {
		l.Warn("KAFKA_BROKERS is empty, messages will only be logged")
		return &logProducer{logger: l}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Logger:       zap.NewStdLog(l.With(zap.String("kafka_component", "writer"))),
		ErrorLogger:  zap.NewStdLog(l.With(zap.String("kafka_component", "writer_error"))),
	}

	l.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
	return &kafkaProducer{writer: writer, logger: l}
}

func (p *kafkaProducer) Produce(ctx context.Context, topic string, key []byte, message []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: message,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to produce message to Kafka topic",
			zap.String("topic", topic),
			zap.Error(err))
		return fmt.Errorf("failed to produce message: %w", err)
	}
	p.logger.Debug("Produced message to topic", zap.String("topic", topic))
	return nil
}

func (p *kafkaProducer) Close() error {
	if err := p.writer.Close(); err != nil {
		p.logger.Error("Failed to close Kafka producer", zap.Error(err))
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	p.logger.Info("Kafka producer closed.")
	return nil
}

// ローカル開発用
type logProducer struct {
	logger *zap.Logger
}

func (p *logProducer) Produce(_ context.Context, topic string, key []byte, message []byte) error {
	p.logger.Info("message (not sent, no brokers)",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.ByteString("value", message))
	return nil
}

func (p *logProducer) Close() error {
	return nil
}
