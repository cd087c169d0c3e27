package booking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/physiobook/booking-engine/internal/redis"
)

// Locker serialises booking writes per therapist and date. A lock still held
// after the locker's wait fails with redisclient.ErrLockNotAcquired.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// dayKey covers every clinic, so overlapping requests with different starts
// or clinics contend for the same lock.
func dayKey(therapistID uuid.UUID, date time.Time) string {
	return redisclient.TherapistDayKey(therapistID, date)
}

// LocalLocker is an in-process Locker for tests and single-instance runs.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx, key); err != nil {
		return err
	}
	defer l.release(key)

	return fn(ctx)
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return redisclient.ErrLockNotAcquired
		case <-ctx.Done():
			return fmt.Errorf("acquire lock: %w", ctx.Err())
		}
	}
}

func (l *LocalLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if released, ok := l.held[key]; ok {
		delete(l.held, key)
		close(released)
	}
}
