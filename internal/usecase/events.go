package usecase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/domain/model"

	"github.com/google/uuid"
)

type OrderCreatedEvent struct {
	OrderID       int64             `json:"order_id"`
	BuyerID       int64             `json:"buyer_id"`
	Status        model.OrderStatus `json:"status"`
	PaymentAmount int64             `json:"payment_amount"`
	TransactionID string            `json:"transaction_id"`
	Items         []OrderItemOutput `json:"items"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type OrderStatusChangedEvent struct {
	OrderID    int64             `json:"order_id"`
	BuyerID    int64             `json:"buyer_id"`
	From       model.OrderStatus `json:"from"`
	To         model.OrderStatus `json:"to"`
	ActorID    int64             `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// envelopeに包んでoutbox行を作る
func newOutboxMessage(eventType string, orderID int64, payload interface{}) (model.OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.OutboxMessage{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	id := uuid.NewString()
	envelope, err := json.Marshal(struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}{ID: id, EventType: eventType, Data: data})
	if err != nil {
		return model.OutboxMessage{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return model.OutboxMessage{
		ID:          id,
		AggregateID: orderID,
		EventType:   eventType,
		Key:         strconv.FormatInt(orderID, 10),
		Payload:     envelope,
	}, nil
}
