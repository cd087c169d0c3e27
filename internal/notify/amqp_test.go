package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeChannel struct {
	mu        sync.Mutex
	failures  int
	published []amqp.Publishing
	closeCh   chan *amqp.Error
	closed    bool

	started chan struct{}
	block   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return amqp.ErrClosed
	}
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCh = receiver
	return receiver
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) messages() []amqp.Publishing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]amqp.Publishing(nil), c.published...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fakeBroker hands out the given channels in order, one per dial.
type fakeBroker struct {
	mu       sync.Mutex
	channels []*fakeChannel
	dials    int
}

func (b *fakeBroker) dial() (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dials >= len(b.channels) {
		return nil, errors.New("connection refused")
	}
	ch := b.channels[b.dials]
	b.dials++
	return newSession(nopCloser{}, ch), nil
}

func (b *fakeBroker) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func TestAMQPEmitter_RedialsAfterPublishError(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	first.failures = 1
	broker := &fakeBroker{channels: []*fakeChannel{first, second}}

	e, err := newAMQPEmitter(broker.dial, "notifications", 4, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, e.Notify(context.Background(), uuid.New(), KindBookingScheduled, nil))
	require.NoError(t, e.Close())

	assert.Equal(t, 2, broker.dialCount())
	assert.Empty(t, first.messages())
	require.Len(t, second.messages(), 1)
	assert.Equal(t, string(KindBookingScheduled), second.messages()[0].Type)
	assert.Equal(t, amqp.Persistent, second.messages()[0].DeliveryMode)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestAMQPEmitter_ReopensClosedChannel(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	broker := &fakeBroker{channels: []*fakeChannel{first, second}}

	e, err := newAMQPEmitter(broker.dial, "notifications", 4, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	first.closeCh <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "broker restart"}

	require.NoError(t, e.Notify(context.Background(), uuid.New(), KindBookingCancelled, nil))
	require.NoError(t, e.Close())

	assert.Empty(t, first.messages())
	assert.Len(t, second.messages(), 1)
}

func TestAMQPEmitter_NotifyIgnoresCallerContext(t *testing.T) {
	ch := newFakeChannel()
	broker := &fakeBroker{channels: []*fakeChannel{ch}}

	e, err := newAMQPEmitter(broker.dial, "notifications", 4, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Notify(ctx, uuid.New(), KindBookingCompleted, nil))
	require.NoError(t, e.Close())

	assert.Len(t, ch.messages(), 1)
}

func TestAMQPEmitter_FullQueueDoesNotBlock(t *testing.T) {
	ch := newFakeChannel()
	ch.started = make(chan struct{}, 8)
	ch.block = make(chan struct{})
	broker := &fakeBroker{channels: []*fakeChannel{ch}}

	e, err := newAMQPEmitter(broker.dial, "notifications", 1, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Notify(ctx, uuid.New(), KindBookingCreated, nil))
	<-ch.started // first message is now in flight

	require.NoError(t, e.Notify(ctx, uuid.New(), KindBookingCreated, nil))

	begin := time.Now()
	err = e.Notify(ctx, uuid.New(), KindBookingCreated, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(ch.block)
	require.NoError(t, e.Close())
	assert.Len(t, ch.messages(), 2)
}

func TestAMQPEmitter_RejectsAfterClose(t *testing.T) {
	broker := &fakeBroker{channels: []*fakeChannel{newFakeChannel()}}

	e, err := newAMQPEmitter(broker.dial, "notifications", 4, time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	err = e.Notify(context.Background(), uuid.New(), KindBookingExpired, nil)
	assert.ErrorIs(t, err, ErrEmitterClosed)
	assert.NoError(t, e.Close())
}

func TestAMQPEmitter_DialFailure(t *testing.T) {
	broker := &fakeBroker{}
	_, err := newAMQPEmitter(broker.dial, "notifications", 4, time.Millisecond, zaptest.NewLogger(t))
	assert.Error(t, err)
}
