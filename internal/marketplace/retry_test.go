package marketplace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestRetryPolicySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyRecoversFromTransientErrors(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &TransientError{Status: 503}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnFatalError(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func() error {
		calls++
		return &FatalError{Status: 400, Message: "malformed request"}
	})

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyExhaustsBudget(t *testing.T) {
	calls := 0
	err := testPolicy(4).Do(context.Background(), func() error {
		calls++
		return &TransientError{Status: 500}
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)

	var transient *TransientError
	assert.True(t, errors.As(err, &transient), "the last cause must stay inspectable")
}

func TestRetryPolicyHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	policy := RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	errCh := make(chan error, 1)
	go func() {
		errCh <- policy.Do(ctx, func() error {
			calls++
			return &TransientError{Status: 500}
		})
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}
