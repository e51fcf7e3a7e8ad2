package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestBernoulli(t *testing.T) {
	assert.True(t, Bernoulli(0.3, fixedSource(0.29)))
	assert.False(t, Bernoulli(0.3, fixedSource(0.3)))
	assert.False(t, Bernoulli(0, fixedSource(0)))
	assert.True(t, Bernoulli(1, fixedSource(0.999)))
}

func TestSimulator_Run(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		passed bool
	}{
		{
			name:   "disabled always passes",
			policy: Policy{Enabled: false, FailureRate: 1, Decide: AlwaysFail},
			passed: true,
		},
		{
			name:   "enabled with forced failure",
			policy: Policy{Enabled: true, FailureRate: 0, Decide: AlwaysFail},
			passed: false,
		},
		{
			name:   "enabled with forced pass",
			policy: Policy{Enabled: true, FailureRate: 1, Decide: NeverFail},
			passed: true,
		},
		{
			name:   "enabled draws from the source",
			policy: Policy{Enabled: true, FailureRate: 0.5, Source: fixedSource(0.1)},
			passed: false,
		},
		{
			name:   "enabled draw above the rate passes",
			policy: Policy{Enabled: true, FailureRate: 0.5, Source: fixedSource(0.9)},
			passed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			passed, err := New(tt.policy).Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.passed, passed)
		})
	}
}

func TestSimulator_RunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sim := New(Policy{Delay: time.Hour})
	start := time.Now()
	_, err := sim.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimulator_RunWaitsForDelay(t *testing.T) {
	sim := New(Policy{Delay: 20 * time.Millisecond})
	start := time.Now()

	passed, err := sim.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, passed)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
