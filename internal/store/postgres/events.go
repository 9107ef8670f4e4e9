package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) ListOutboxEventsAfter(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, offset.LastEventTime, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	offset := store.OutboxOffset{Consumer: consumer}
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM consumer_offsets
		WHERE consumer = $1
	`, consumer)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return offset, nil
		}
		return store.OutboxOffset{}, classify(err)
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consumer_offsets (consumer, last_event_time, last_event_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer)
		DO UPDATE SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, consumer, offset.LastEventTime, offset.LastEventID)
	return classify(err)
}

func (s *Store) ListOffsets(ctx context.Context) ([]store.OutboxOffset, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT consumer, last_event_time, last_event_id
		FROM consumer_offsets
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var offsets []store.OutboxOffset
	for rows.Next() {
		var offset store.OutboxOffset
		if err := rows.Scan(&offset.Consumer, &offset.LastEventTime, &offset.LastEventID); err != nil {
			return nil, err
		}
		offsets = append(offsets, offset)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return offsets, nil
}

func (s *Store) CleanupOutbox(ctx context.Context, before time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE created_at < $1
	`, before)
	return classify(err)
}

func collectEvents(rows pgx.Rows) ([]store.OutboxEvent, error) {
	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.ClinicID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
