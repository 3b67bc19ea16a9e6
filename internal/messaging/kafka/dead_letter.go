package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// DeadLetter описывает payload сообщения в DLQ: исходное событие outbox и причину отказа.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// ErrNotDeadLetter означает, что сообщение не похоже на DLQ-конверт outbox.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// DecodeDeadLetter разбирает Envelope из DLQ-топика и вложенный DeadLetter.
func DecodeDeadLetter(value []byte) (Envelope, DeadLetter, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return Envelope{}, DeadLetter{}, ErrNotDeadLetter
	}

	var letter DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return Envelope{}, DeadLetter{}, fmt.Errorf("decode dead letter payload: %w", err)
	}
	if len(letter.Payload) == 0 {
		return Envelope{}, DeadLetter{}, errors.New("dead letter does not contain original event payload")
	}
	return envelope, letter, nil
}

// Replay восстанавливает исходный Envelope для повторной публикации.
func (d DeadLetter) Replay(fallback Envelope, now time.Time) Envelope {
	return Envelope{
		ID:            firstNonEmpty(d.OutboxID, fallback.ID),
		AggregateType: firstNonEmpty(d.AggregateType, fallback.AggregateType),
		AggregateID:   firstNonEmpty(d.AggregateID, fallback.AggregateID),
		EventType:     firstNonEmpty(d.EventType, fallback.EventType),
		Payload:       d.Payload,
		PublishedAt:   now.UTC(),
	}
}

// HeaderValue возвращает значение заголовка key или пустую строку.
func HeaderValue(headers []*sarama.RecordHeader, key string) string {
	for _, h := range headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
