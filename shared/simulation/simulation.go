// Package simulation stands in for the external calls participants would make:
// a cancellable delay followed by an injected pass/fail decision.
package simulation

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Source yields uniformly distributed values in [0,1).
type Source interface {
	Float64() float64
}

// Decision reports whether the simulated call fails, given the failure probability.
type Decision func(probability float64, source Source) bool

// Bernoulli fails with the given probability.
func Bernoulli(probability float64, source Source) bool {
	return source.Float64() < probability
}

// AlwaysFail ignores the probability and fails every call.
func AlwaysFail(float64, Source) bool { return true }

// NeverFail ignores the probability and passes every call.
func NeverFail(float64, Source) bool { return false }

// Policy is the injected configuration of a simulated step.
type Policy struct {
	Enabled     bool
	FailureRate float64
	Delay       time.Duration
	Decide      Decision
	Source      Source
}

// Simulator runs a simulated external call. Safe for concurrent use.
type Simulator struct {
	policy Policy
	mu     sync.Mutex
}

// New builds a Simulator, filling in Bernoulli and a seeded PCG source when they are not set.
func New(policy Policy) *Simulator {
	if policy.Decide == nil {
		policy.Decide = Bernoulli
	}
	if policy.Source == nil {
		policy.Source = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Simulator{policy: policy}
}

// Run waits for the configured delay and then reports whether the call passed.
// The delay holds no lock. A cancelled context returns its error.
func (s *Simulator) Run(ctx context.Context) (bool, error) {
	if err := SleepOrDone(ctx, s.policy.Delay); err != nil {
		return false, err
	}

	if !s.policy.Enabled {
		return true, nil
	}

	s.mu.Lock()
	failed := s.policy.Decide(s.policy.FailureRate, s.policy.Source)
	s.mu.Unlock()

	return !failed, nil
}

// SleepOrDone waits for the duration or returns early on context cancellation.
func SleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
