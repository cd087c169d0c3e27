package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusVoided    Status = "voided"
)

var (
	// ErrAlreadyCaptured is returned by Void when the charge went through before it could be cancelled.
	ErrAlreadyCaptured = errors.New("payment already captured")
	ErrGateway         = errors.New("payment gateway error")
)

// Intent is the gateway-side handle for a requested payment.
type Intent struct {
	ExternalID  string
	ClientToken string
	Status      Status
}

// Gateway is the hosted card-payment provider as seen by the allocator.
type Gateway interface {
	RequestPayment(ctx context.Context, bookingID uuid.UUID, amountCents int64, currency string) (*Intent, error)
	ConfirmPayment(ctx context.Context, externalID string) (Status, error)
	Refund(ctx context.Context, externalID string) (Status, error)
	Void(ctx context.Context, externalID string) (Status, error)
}

// Payment is the persisted record of one payment attempt for a booking.
type Payment struct {
	ID                    uuid.UUID
	BookingID             uuid.UUID
	AmountCents           int64
	Currency              string
	Status                Status
	ExternalTransactionID string
	ClientToken           string
	ProcessedAt           *time.Time
	ReleasedAt            *time.Time // paid out to the therapist
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Settled reports whether the payment can no longer change at the gateway.
func (p Payment) Settled() bool {
	switch p.Status {
	case StatusFailed, StatusRefunded, StatusVoided:
		return true
	}
	return false
}
