package repository

import (
	"context"
	"time"

	"storefront/internal/domain/model"
)

type OutboxRepository interface {
	Create(ctx context.Context, msg model.OutboxMessage) error
	// 未送信を古い順に
	ListUnsent(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
}
