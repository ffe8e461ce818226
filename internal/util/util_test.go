package util

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	a, err := NewRunID(now)
	require.NoError(t, err)
	b, err := NewRunID(now)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^20261016-[0-9a-z]{10}$`), a)
	assert.NotEqual(t, a, b)
}

func TestRetryWithContext_SuccessAfterRetries(t *testing.T) {
	calls := 0
	got, err := RetryWithContext(context.Background(), 3, 0, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 3, calls)
}

func TestRetryWithContext_PersistentFailure(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 2, 0, func(context.Context) (string, error) {
		calls++
		return "", errors.New("persistent")
	})
	require.EqualError(t, err, "persistent")
	assert.Equal(t, 2, calls)
}

func TestRetryWithContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RetryWithContext(ctx, 5, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(context.Background(), 0)
	_, ok := ctx.Deadline()
	assert.False(t, ok)
	cancel()
	assert.Error(t, ctx.Err())

	ctx, cancel = WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, ok = ctx.Deadline()
	assert.True(t, ok)
}
