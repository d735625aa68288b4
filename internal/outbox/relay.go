package outbox

import (
	"context"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/metrics"
	repo "storefront/internal/repository"

	"go.uber.org/zap"
)

type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, message []byte) error
}

// 未送信のoutbox行をKafkaへ送り、送れたものだけsent_atを埋める
type Relay struct {
	tx           repo.TransactionManager
	producer     Producer
	topic        string
	pollInterval time.Duration
	batchSize    int
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewRelay(
	tx repo.TransactionManager,
	producer Producer,
	topic string,
	pollInterval time.Duration,
	batchSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Relay {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		tx:           tx,
		producer:     producer,
		topic:        topic,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		metrics:      m,
		logger:       logger.With(zap.String("component", "outbox_relay")),
		now:          time.Now,
	}
}

// ctxが終わるまでブロックする
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("Starting outbox relay",
		zap.String("topic", r.topic),
		zap.Duration("poll_interval", r.pollInterval))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.Error("Failed to relay outbox messages", zap.Error(err))
				continue
			}
			if n > 0 {
				r.logger.Debug("Relayed outbox messages", zap.Int("count", n))
			}
		}
	}
}

// 1バッチ分を送る。送信に失敗したら順序を守るためそこで止める。
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	sent := 0
	err := r.tx.WithinTx(ctx, func(txr repo.TxRepos) error {
		msgs, err := txr.Outbox().ListUnsent(ctx, r.batchSize)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := r.publish(ctx, m); err != nil {
				r.logger.Warn("Failed to send outbox message, will retry",
					zap.String("message_id", m.ID),
					zap.String("event_type", m.EventType),
					zap.Error(err))
				return nil
			}
			if err := txr.Outbox().MarkSent(ctx, m.ID, r.now()); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}

func (r *Relay) publish(ctx context.Context, m model.OutboxMessage) error {
	err := r.producer.Produce(ctx, r.topic, []byte(m.Key), m.Payload)
	r.metrics.Published(m.EventType, err == nil)
	return err
}
