package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHandleWithRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		if calls == 1 {
			return errors.New("provider down")
		}
		return nil
	}

	err := handleWithRetry(context.Background(), handler, kafka.Message{Offset: 7}, 3, time.Millisecond, zap.NewNop())

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHandleWithRetryReturnsLastError(t *testing.T) {
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		return errors.New("provider down")
	}

	err := handleWithRetry(context.Background(), handler, kafka.Message{}, 3, time.Millisecond, zap.NewNop())

	assert.EqualError(t, err, "provider down")
	assert.Equal(t, 3, calls)
}

func TestHandleWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	handler := func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return errors.New("provider down")
	}

	err := handleWithRetry(ctx, handler, kafka.Message{}, 5, time.Hour, zap.NewNop())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
