package model

import "time"

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// 注文と同じトランザクションで書き、relayがKafkaへ送る。
type OutboxMessage struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	AggregateID int64      `gorm:"not null;index" json:"aggregate_id"`
	EventType   string     `gorm:"type:varchar(100);not null" json:"event_type"`
	Key         string     `gorm:"type:varchar(255);not null" json:"key"`
	Payload     []byte     `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	SentAt      *time.Time `gorm:"index" json:"sent_at,omitempty"`
}
