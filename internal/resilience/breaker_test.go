package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/resilience"
)

var errRemote = errors.New("predictor: connection refused")

func failingCall(context.Context) error { return errRemote }
func okCall(context.Context) error      { return nil }

func newBreaker(reset time.Duration) *resilience.Breaker {
	return resilience.NewBreaker("predictor", resilience.BreakerConfig{
		Timeout:           time.Second,
		ErrorThresholdPct: 50,
		ResetTimeout:      reset,
		VolumeThreshold:   5,
	}, nil)
}

func TestBreakerStaysClosedBelowVolume(t *testing.T) {
	b := newBreaker(time.Minute)
	ctx := context.Background()

	// Cuatro fallos seguidos: por debajo del volumen mínimo no se evalúa.
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, b.Execute(ctx, failingCall), errRemote)
	}
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreakerOpensAboveThreshold(t *testing.T) {
	b := newBreaker(time.Minute)
	ctx := context.Background()

	// 3 fallos / 5 llamadas = 60% ≥ 50%: abre.
	require.NoError(t, b.Execute(ctx, okCall))
	require.NoError(t, b.Execute(ctx, okCall))
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, failingCall), errRemote)
	}
	assert.Equal(t, resilience.StateOpen, b.State())

	err := b.Execute(ctx, okCall)
	require.Error(t, err)
	assert.Equal(t, domain.CodeBreakerOpen, domain.CodeOf(err))

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	retryAfter, ok := derr.Details["retryAfterMs"].(int64)
	require.True(t, ok)
	assert.Greater(t, retryAfter, int64(0))
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	b := newBreaker(time.Minute)
	ctx := context.Background()

	// 2 fallos / 5 llamadas = 40% < 50%: sigue cerrado.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(ctx, okCall))
	}
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Execute(ctx, failingCall), errRemote)
	}
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreakerHalfOpenProbeCloses(t *testing.T) {
	b := newBreaker(30 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	require.Equal(t, resilience.StateOpen, b.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, resilience.StateHalfOpen, b.State())

	// La sonda exitosa cierra el circuito.
	require.NoError(t, b.Execute(ctx, okCall))
	assert.Equal(t, resilience.StateClosed, b.State())
}

func TestBreakerHalfOpenProbeReopens(t *testing.T) {
	b := newBreaker(30 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, resilience.StateHalfOpen, b.State())

	// La sonda falla: el circuito se reabre inmediatamente.
	require.ErrorIs(t, b.Execute(ctx, failingCall), errRemote)
	assert.Equal(t, resilience.StateOpen, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := newBreaker(30 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, failingCall)
	}
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, resilience.StateHalfOpen, b.State())

	probing := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	// Con una sonda en vuelo, el resto de llamadas rebotan.
	err := b.Execute(ctx, okCall)
	require.Error(t, err)
	assert.Equal(t, domain.CodeBreakerOpen, domain.CodeOf(err))

	close(release)
}

func TestBreakerTimeoutCountsAsFailure(t *testing.T) {
	b := resilience.NewBreaker("slow", resilience.BreakerConfig{
		Timeout:           20 * time.Millisecond,
		ErrorThresholdPct: 50,
		ResetTimeout:      time.Minute,
		VolumeThreshold:   1,
	}, nil)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, resilience.StateOpen, b.State())
}
