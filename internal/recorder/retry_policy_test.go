package recorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_AttemptBound(t *testing.T) {
	t.Parallel()
	p := NewExponentialRetryPolicy()
	err := errors.New("transient")

	require.True(t, p.ShouldRetry(err, 1))
	require.True(t, p.ShouldRetry(err, 2))
	require.False(t, p.ShouldRetry(err, 3))
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
}

func TestRetryPolicy_BackoffStrictlyIncreases(t *testing.T) {
	t.Parallel()
	p := NewExponentialRetryPolicy()
	prev := p.Backoff(0)
	for attempt := 1; attempt < p.MaxAttempts(); attempt++ {
		next := p.Backoff(attempt)
		require.Greater(t, next, prev, "backoff must grow between attempts")
		prev = next
	}
}
