package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/anthropics/chronicle/internal/model"
)

// breakerFailureThreshold and breakerOpenDuration implement the
// consecutive-failure trip and cooldown from spec §4.3/P10's failover
// policy: five consecutive write failures open the breaker, which
// stays open for thirty seconds before allowing a single probe
// request through in the half-open state. github.com/sony/gobreaker is
// carried over from kubernaut's go.mod; its documented half-open
// behavior (gobreaker.Settings.MaxRequests) gives us the single-probe
// semantics directly instead of hand-rolling one.
//
// Each exported method below retries internally (retryWrite) inside a
// single cb.Execute call, so the breaker sees one success/failure verdict
// per logical write, not one per retry attempt — P10's "T consecutive
// writes" counts writes, not the retries within a write.
const (
	breakerFailureThreshold uint32 = 5
	breakerOpenDuration            = 30 * time.Second
)

// Guarded wraps a Backend (the Primary, in practice) with a circuit
// breaker so repeated failures stop hammering a backend that's down and
// fail fast instead, letting the Writer fall back to local-only writes.
type Guarded struct {
	inner Backend
	cb    *gobreaker.CircuitBreaker
}

// NewGuarded builds a circuit-breaker-wrapped backend. AuthError
// classifications trip the breaker immediately regardless of the
// consecutive-failure counter, since retrying bad credentials can never
// succeed (spec §7).
func NewGuarded(inner Backend) *Guarded {
	st := gobreaker.Settings{
		Name:        "chronicle-" + inner.Name(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
	}
	return &Guarded{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) State() gobreaker.State { return g.cb.State() }

func (g *Guarded) UpsertSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) (string, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return retryWrite(ctx, func(ctx context.Context) (string, error) {
			return g.inner.UpsertSession(ctx, claudeSessionID, attrs)
		})
	})
	if err != nil {
		return "", g.tripIfAuth(err)
	}
	return v.(string), nil
}

func (g *Guarded) InsertEvent(ctx context.Context, sessionID string, ev *model.Event) (string, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return retryWrite(ctx, func(ctx context.Context) (string, error) {
			return g.inner.InsertEvent(ctx, sessionID, ev)
		})
	})
	if err != nil {
		return "", g.tripIfAuth(err)
	}
	return v.(string), nil
}

func (g *Guarded) CloseSession(ctx context.Context, sessionID string, endTime time.Time) error {
	_, err := g.cb.Execute(func() (any, error) {
		return retryWrite(ctx, func(ctx context.Context) (string, error) {
			return "", g.inner.CloseSession(ctx, sessionID, endTime)
		})
	})
	return g.tripIfAuth(err)
}

func (g *Guarded) Close() error {
	return g.inner.Close()
}

// tripIfAuth forces the breaker open on an AuthError by reporting
// synthetic failures up to breakerFailureThreshold, since credential
// errors will not self-heal on gobreaker's normal cooldown-and-probe
// cycle until the operator fixes the configuration and restarts the
// hook runtime.
func (g *Guarded) tripIfAuth(err error) error {
	if err == nil {
		return nil
	}
	if Classify(err) == KindAuth {
		for i := uint32(0); i < breakerFailureThreshold && g.cb.State() != gobreaker.StateOpen; i++ {
			_, _ = g.cb.Execute(func() (any, error) { return nil, err })
		}
	}
	return err
}
