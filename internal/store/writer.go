package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/anthropics/chronicle/internal/model"
)

// retryAttempts and retryBaseDelay implement spec §4.3's write
// algorithm: up to three attempts per backend with exponential backoff
// (50ms, 100ms, 200ms), capped at retryMaxDelay, on transient errors
// only. No generic backoff library appears anywhere in the retrieved
// pack, so this small piece of arithmetic is hand-rolled rather than
// wired to a third-party dependency (see DESIGN.md).
//
// retryWrite retries within a single logical write. For the primary
// backend it runs inside Guarded's single gobreaker.Execute call so the
// breaker's consecutive-failure counter advances once per write, not
// once per retry attempt (see breaker.go); for local it is applied
// directly here since the local backend carries no breaker.
const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 500 * time.Millisecond
)

// Writer is Chronicle's persistence entrypoint (spec §4.3). Per write
// call it attempts both the primary and local backends independently
// and in parallel, succeeding if either one does; the primary is
// skipped entirely while its circuit breaker is open, in which case
// only the local backend is tried.
type Writer struct {
	primary *Guarded
	local   *Local
	log     zerolog.Logger
}

// NewWriter wires a Writer. Either backend may be nil when disabled by
// config (spec §4.1); both nil is a configuration error the caller
// should reject before constructing a Writer.
func NewWriter(primary *Guarded, local *Local, log zerolog.Logger) *Writer {
	return &Writer{primary: primary, local: local, log: log}
}

// WriteResult reports which backend(s) actually persisted a write and,
// when none did, the last backend error.
type WriteResult struct {
	Backends []string
	Err      error
}

func (r WriteResult) Succeeded() bool { return len(r.Backends) > 0 }

type writeOutcome struct {
	backend string
	err     error
}

// WriteSession upserts a session row against both backends in parallel.
func (w *Writer) WriteSession(ctx context.Context, claudeSessionID string, attrs SessionAttrs) WriteResult {
	return w.fanOut(ctx, func(ctx context.Context, b Backend) (string, error) {
		return b.UpsertSession(ctx, claudeSessionID, attrs)
	})
}

// WriteEvent upserts the owning session (attrs empty — the session was
// already populated by session_start) and inserts ev, against both
// backends in parallel.
func (w *Writer) WriteEvent(ctx context.Context, claudeSessionID string, ev *model.Event) WriteResult {
	if err := ev.Validate(); err != nil {
		return WriteResult{Err: err}
	}
	return w.fanOut(ctx, func(ctx context.Context, b Backend) (string, error) {
		sessionID, err := b.UpsertSession(ctx, claudeSessionID, SessionAttrs{})
		if err != nil {
			return "", err
		}
		return b.InsertEvent(ctx, sessionID, ev)
	})
}

// fanOut runs op against the local backend and, unless its breaker is
// open, the primary backend, concurrently, each with its own retry
// budget. It returns success if at least one backend succeeded (spec
// §4.3, "returning success if at least one succeeds").
func (w *Writer) fanOut(ctx context.Context, op func(context.Context, Backend) (string, error)) WriteResult {
	var wg sync.WaitGroup
	outcomes := make(chan writeOutcome, 2)

	if w.primary != nil && w.primary.State() != gobreaker.StateOpen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Guarded's methods already retry internally within a single
			// breaker verdict; calling retryWrite again here would let one
			// logical write contribute up to retryAttempts failures to the
			// breaker's consecutive-failure counter instead of one.
			_, err := op(ctx, w.primary)
			outcomes <- writeOutcome{backend: "primary", err: err}
		}()
	}
	if w.local != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := retryWrite(ctx, func(ctx context.Context) (string, error) {
				return op(ctx, w.local)
			})
			outcomes <- writeOutcome{backend: "local", err: err}
		}()
	}

	wg.Wait()
	close(outcomes)

	var succeeded []string
	var lastErr error
	for o := range outcomes {
		if o.err == nil {
			succeeded = append(succeeded, o.backend)
			continue
		}
		lastErr = o.err
		w.log.Warn().Err(o.err).Str("backend", o.backend).Msg("backend write failed")
	}

	if len(succeeded) == 0 {
		if lastErr == nil {
			lastErr = errors.New("store: no backend configured")
		}
		return WriteResult{Err: lastErr}
	}
	return WriteResult{Backends: succeeded}
}

// retryWrite retries op for errors Classify marks retryable, backing
// off between attempts. A permanent or auth error, or an open breaker,
// returns immediately without burning the retry budget.
func retryWrite(ctx context.Context, op func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		id, err := op(ctx)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !Classify(err).Retryable() {
			return "", err
		}
		delay := retryBaseDelay * (1 << attempt)
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

func (w *Writer) Close() error {
	var errs []error
	if w.primary != nil {
		if err := w.primary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.local != nil {
		if err := w.local.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
