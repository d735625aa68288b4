package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"storefront/internal/usecase"
)

// 決済済み・注文未保存を照合用トピックへ送る
type ChargeAlerter struct {
	producer Producer
	topic    string
}

func NewChargeAlerter(producer Producer, topic string) *ChargeAlerter {
	return &ChargeAlerter{producer: producer, topic: topic}
}

func (a *ChargeAlerter) AlertChargedUnrecorded(ctx context.Context, alert usecase.ChargeAlert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal charge alert: %w", err)
	}
	key := []byte(strconv.FormatInt(alert.BuyerID, 10))
	if err := a.producer.Produce(ctx, a.topic, key, payload); err != nil {
		return fmt.Errorf("publish charge alert: %w", err)
	}
	return nil
}
