// Package realtime implements Chronicle's row-level change fan-out
// (spec §4.5): two Postgres LISTEN/NOTIFY channels, one carrying a
// compact JSON envelope per inserted event and one per session insert or
// update, with a polling fallback once the LISTEN connection is lost. Publishing
// itself happens inside the database trigger installed by
// internal/store's primary schema, in the same transaction as the
// write it announces; this package is the subscriber side, plus a
// thin Publisher used by tests and by callers that want to emit an
// out-of-band notification directly.
//
// Grounded on agentpg's documented LISTEN/NOTIFY-with-polling-fallback
// design and on pgxpool's connection-pooling pattern as used by
// elephant.ai's container builder.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// eventsChannel and sessionsChannel are the two pg_notify topics the
// primary schema's triggers publish on (spec §4.5): one per inserted
// event row, and one per session row change — both the initial
// session_start insert and the later termination UPDATE fire the
// sessions trigger independently, so a consumer sees the termination as
// its own notification rather than inferring it from an event payload.
const (
	eventsChannel   = "chronicle_events"
	sessionsChannel = "chronicle_sessions"
)

// Notification is the decoded payload of a single change event, from
// either topic. Topic reports which one delivered it; EventType/
// SessionID are populated for eventsChannel deliveries, ClaudeSessionID/
// StartTime/EndTime for sessionsChannel ones.
type Notification struct {
	Topic           string     `json:"-"`
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id,omitempty"`
	EventType       string     `json:"event_type,omitempty"`
	ClaudeSessionID string     `json:"claude_session_id,omitempty"`
	StartTime       time.Time  `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Timestamp       time.Time  `json:"timestamp,omitempty"`
}

// Publisher emits notifications directly, bypassing the insert/update
// triggers. Used for synthetic/administrative announcements and in
// tests that don't want to depend on the triggers being installed.
type Publisher struct {
	pool *pgxpool.Pool
}

func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// Publish emits n on the events topic.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	return p.publish(ctx, eventsChannel, n)
}

// PublishSession emits n on the sessions topic.
func (p *Publisher) PublishSession(ctx context.Context, n Notification) error {
	return p.publish(ctx, sessionsChannel, n)
}

func (p *Publisher) publish(ctx context.Context, channel string, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("realtime: marshal notification: %w", err)
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload))
	return err
}

// Subscriber delivers Notifications to a Go channel, either by holding
// a dedicated LISTEN connection or, once that connection is lost, by
// polling the events and sessions tables for rows newer than the last
// one seen.
type Subscriber struct {
	pool         *pgxpool.Pool
	log          zerolog.Logger
	pollInterval time.Duration
}

// NewSubscriber builds a Subscriber against pool. pollInterval governs
// the fallback polling cadence used if the LISTEN connection drops;
// agentpg's own RunPollInterval default (1s) is the model here.
func NewSubscriber(pool *pgxpool.Pool, log zerolog.Logger, pollInterval time.Duration) *Subscriber {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Subscriber{pool: pool, log: log, pollInterval: pollInterval}
}

// Listen returns a channel of Notifications. It runs until ctx is
// canceled, at which point the channel is closed. Delivery is
// best-effort, not exactly-once: a notification can be missed if no
// subscriber is connected when it fires and the polling fallback's
// high-water mark has already advanced past it (spec §4.5's explicit
// non-goal of exactly-once delivery).
func (s *Subscriber) Listen(ctx context.Context) (<-chan Notification, error) {
	out := make(chan Notification, 64)
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("realtime: acquire listen connection: %w", err)
	}

	for _, channel := range []string{eventsChannel, sessionsChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			conn.Release()
			return nil, fmt.Errorf("realtime: LISTEN %s: %w", channel, err)
		}
	}

	go s.listenLoop(ctx, conn, out)
	return out, nil
}

func (s *Subscriber) listenLoop(ctx context.Context, conn *pgxpool.Conn, out chan<- Notification) {
	defer close(out)
	defer conn.Release()

	for {
		pgn, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("realtime: lost LISTEN connection, falling back to polling")
			s.pollUntilCanceled(ctx, out)
			return
		}

		var n Notification
		if err := json.Unmarshal([]byte(pgn.Payload), &n); err != nil {
			s.log.Warn().Err(err).Str("payload", pgn.Payload).Msg("realtime: malformed notification payload")
			continue
		}
		n.Topic = pgn.Channel

		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

// pollUntilCanceled is the degraded-mode fallback (spec §4.5): when
// LISTEN is unavailable, poll both chronicle_events and chronicle_sessions
// for rows newer than the last one seen on each, at the cost of
// pollInterval worth of added latency. Session updates (termination) are
// caught here too since created_at/start_time doesn't move on UPDATE —
// the poll keys off end_time instead so a termination is still surfaced.
func (s *Subscriber) pollUntilCanceled(ctx context.Context, out chan<- Notification) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastEvent, lastSessionStart, lastSessionEnd time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lastEvent = s.pollEvents(ctx, lastEvent, out)
			lastSessionStart, lastSessionEnd = s.pollSessions(ctx, lastSessionStart, lastSessionEnd, out)
		}
	}
}

func (s *Subscriber) pollEvents(ctx context.Context, since time.Time, out chan<- Notification) time.Time {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, event_type, timestamp FROM chronicle_events
		WHERE timestamp > $1 ORDER BY timestamp ASC LIMIT 100
	`, since)
	if err != nil {
		s.log.Warn().Err(err).Msg("realtime: events poll fallback query failed")
		return since
	}
	defer rows.Close()

	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.SessionID, &n.EventType, &n.Timestamp); err != nil {
			continue
		}
		n.Topic = eventsChannel
		since = n.Timestamp
		select {
		case out <- n:
		case <-ctx.Done():
			return since
		}
	}
	return since
}

// pollSessions polls new session inserts (by start_time) and newly
// terminated sessions (by end_time) separately, so a termination is
// still delivered as its own notification under the polling fallback,
// matching what the sessions trigger does under LISTEN/NOTIFY.
func (s *Subscriber) pollSessions(ctx context.Context, sinceStart, sinceEnd time.Time, out chan<- Notification) (time.Time, time.Time) {
	startRows, err := s.pool.Query(ctx, `
		SELECT id, claude_session_id, start_time FROM chronicle_sessions
		WHERE start_time > $1 ORDER BY start_time ASC LIMIT 100
	`, sinceStart)
	if err != nil {
		s.log.Warn().Err(err).Msg("realtime: sessions poll fallback query failed")
	} else {
		for startRows.Next() {
			var n Notification
			if err := startRows.Scan(&n.ID, &n.ClaudeSessionID, &n.StartTime); err != nil {
				continue
			}
			n.Topic = sessionsChannel
			sinceStart = n.StartTime
			select {
			case out <- n:
			case <-ctx.Done():
				startRows.Close()
				return sinceStart, sinceEnd
			}
		}
		startRows.Close()
	}

	endRows, err := s.pool.Query(ctx, `
		SELECT id, claude_session_id, start_time, end_time FROM chronicle_sessions
		WHERE end_time > $1 ORDER BY end_time ASC LIMIT 100
	`, sinceEnd)
	if err != nil {
		s.log.Warn().Err(err).Msg("realtime: sessions termination poll fallback query failed")
		return sinceStart, sinceEnd
	}
	defer endRows.Close()

	for endRows.Next() {
		var n Notification
		var endTime time.Time
		if err := endRows.Scan(&n.ID, &n.ClaudeSessionID, &n.StartTime, &endTime); err != nil {
			continue
		}
		n.Topic = sessionsChannel
		n.EndTime = &endTime
		sinceEnd = endTime
		select {
		case out <- n:
		case <-ctx.Done():
			return sinceStart, sinceEnd
		}
	}
	return sinceStart, sinceEnd
}
