package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindBookingCreated     Kind = "booking_created"
	KindBookingScheduled   Kind = "booking_scheduled"
	KindBookingCancelled   Kind = "booking_cancelled"
	KindBookingCompleted   Kind = "booking_completed"
	KindBookingNoShow      Kind = "booking_no_show"
	KindBookingRescheduled Kind = "booking_rescheduled"
	KindBookingExpired     Kind = "booking_expired"
	KindPaymentFailed      Kind = "payment_failed"
	KindPaymentRefunded    Kind = "payment_refunded"
	KindPaymentReleased    Kind = "payment_released"
)

// Emitter hands a notification to whatever channel delivers it.
type Emitter interface {
	Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error
}

// Message is the wire form published to the notification queue.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewMessage(userID uuid.UUID, kind Kind, payload map[string]any) Message {
	return Message{
		ID:        uuid.New(),
		UserID:    userID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func DecodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("decode notification: %w", err)
	}
	if m.UserID == uuid.Nil || m.Kind == "" {
		return Message{}, fmt.Errorf("decode notification: missing user_id or kind")
	}
	return m, nil
}

// LogEmitter writes notifications to the log. Used when no broker is configured.
type LogEmitter struct {
	logger *zap.Logger
}

func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Notify(_ context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	e.logger.Info("notification",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(kind)),
		zap.Any("payload", payload),
	)
	return nil
}
