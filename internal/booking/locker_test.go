package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/physiobook/booking-engine/internal/redis"
)

func TestDayKey_IgnoresTimeOfDay(t *testing.T) {
	id := uuid.New()
	morning := time.Date(2024, 12, 23, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, dayKey(id, morning), dayKey(id, morning.Add(15*time.Hour)))
	assert.NotEqual(t, dayKey(id, morning), dayKey(id, morning.AddDate(0, 0, 1)))
	assert.NotEqual(t, dayKey(id, morning), dayKey(uuid.New(), morning))
}

func TestLocalLocker_WaiterRunsAfterRelease(t *testing.T) {
	l := NewLocalLocker(time.Second)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- l.WithLock(ctx, "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	second := make(chan error, 1)
	ran := make(chan struct{})
	go func() {
		second <- l.WithLock(ctx, "k", func(context.Context) error {
			close(ran)
			return nil
		})
	}()

	select {
	case <-ran:
		t.Fatal("second holder ran while the lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	<-ran
}

func TestLocalLocker_TimesOut(t *testing.T) {
	l := NewLocalLocker(20 * time.Millisecond)
	ctx := context.Background()

	err := l.WithLock(ctx, "k", func(ctx context.Context) error {
		return l.WithLock(ctx, "k", func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, redisclient.ErrLockNotAcquired)

	// other keys are independent
	err = l.WithLock(ctx, "a", func(ctx context.Context) error {
		return l.WithLock(ctx, "b", func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	l := NewLocalLocker(time.Minute)

	err := l.WithLock(context.Background(), "k", func(context.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		return l.WithLock(ctx, "k", func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, redisclient.ErrLockNotAcquired)
}
