package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/models"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/queue"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const walkinPad = 3

const uniqueViolation = "23505"

type Store struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

type Options struct {
	OpTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	timeout := options.OpTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{pool: pool, opTimeout: timeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) CheckIn(ctx context.Context, input store.CheckInInput) (models.QueueEntry, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// A unique violation aborts the whole transaction, so conflicts retry
	// the full check-in. Walk-in number contention gets a fresh number
	// (after two ordinary retries, a randomized suffix: losing strict
	// sequence is better than failing the check-in); a request id or
	// appointment inserted concurrently is found and returned on the retry.
	var entry models.QueueEntry
	var created bool
	var err error
	for attempt := 0; attempt < 4; attempt++ {
		entry, created, err = s.checkIn(ctx, input, attempt)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			continue
		}
		break
	}
	return entry, created, classify(err)
}

func (s *Store) checkIn(ctx context.Context, input store.CheckInInput, attempt int) (models.QueueEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var existing models.QueueEntry
	var found bool
	if input.RequestID != "" {
		existing, found, err = findEntryByRequestID(ctx, tx, input.RequestID)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.QueueEntry{}, false, err
			}
			return existing, false, nil
		}
	}

	clinic, found, err := getClinic(ctx, tx, input.ClinicID)
	if err != nil {
		return models.QueueEntry{}, false, err
	}
	if !found {
		err = store.ErrClinicNotFound
		return models.QueueEntry{}, false, err
	}

	arrivedAt := input.ArrivedAt
	if arrivedAt.IsZero() {
		arrivedAt = time.Now().UTC()
	}
	issuedOn := clinicDay(arrivedAt, clinic.Timezone)

	patientName := input.PatientName
	ticketNumber := ""
	var appointmentID *string

	if input.AppointmentID != "" {
		// A second check-in for the same appointment returns the entry the
		// first one created instead of queueing the patient twice.
		existing, found, err = findOpenEntryByAppointment(ctx, tx, input.AppointmentID)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		if found {
			if err = tx.Commit(ctx); err != nil {
				return models.QueueEntry{}, false, err
			}
			return existing, false, nil
		}

		var appt models.Appointment
		appt, found, err = getAppointment(ctx, tx, input.AppointmentID, input.ClinicID)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		if !found {
			err = store.ErrAppointmentNotFound
			return models.QueueEntry{}, false, err
		}
		ticketNumber = appt.TicketCode
		if patientName == "" {
			patientName = appt.PatientName
		}
		appointmentID = &input.AppointmentID

		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET status = $1
			WHERE appointment_id = $2 AND status = $3
		`, models.AppointmentCheckedIn, input.AppointmentID, models.AppointmentBooked)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
	}

	if ticketNumber == "" {
		var seq int64
		seq, err = nextWalkinNumber(ctx, tx, input.ClinicID, issuedOn)
		if err != nil {
			return models.QueueEntry{}, false, err
		}
		ticketNumber = fmt.Sprintf("W-%0*d", walkinPad, seq)
		if attempt >= 2 {
			ticketNumber = fmt.Sprintf("%s-%s", ticketNumber, randomSuffix())
			log.Printf("walk-in number contention for clinic %s, using fallback %s", input.ClinicID, ticketNumber)
		}
	}

	entryID := uuid.NewString()
	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_entries (
			entry_id, request_id, clinic_id, appointment_id, ticket_number,
			patient_name, status, arrival_time, issued_on
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+entryColumns, entryID, nullIfEmpty(input.RequestID), input.ClinicID, appointmentID,
		ticketNumber, patientName, models.StatusWaiting, arrivedAt, issuedOn)
	entry, err = scanEntry(row)
	if err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventEntryCreated, store.ChangeCreated, entry); err != nil {
		return models.QueueEntry{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()
	entry, err := s.transition(opCtx, input)
	if err != nil {
		return models.QueueEntry{}, classify(err)
	}

	// Best-effort mirror onto the appointment record. The queue is the
	// source of truth for "this patient has been handled"; a failed mirror
	// is logged and left for reconciliation, never rolled back.
	if entry.AppointmentID != nil {
		if target := appointmentStatusFor(input.TargetStatus); target != "" {
			mirrorCtx, mirrorCancel := context.WithTimeout(context.Background(), s.opTimeout)
			if err := s.mirrorAppointment(mirrorCtx, *entry.AppointmentID, target); err != nil {
				log.Printf("appointment mirror error entry=%s appointment=%s: %v", entry.EntryID, *entry.AppointmentID, err)
			}
			mirrorCancel()
		}
	}
	return entry, nil
}

func (s *Store) transition(ctx context.Context, input store.TransitionInput) (models.QueueEntry, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	current, found, err := s.loadEntryStatus(ctx, input.EntryID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if !found {
		return models.QueueEntry{}, store.ErrEntryNotFound
	}
	if !queue.ValidTransition(current, input.TargetStatus) {
		return models.QueueEntry{}, store.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var row pgx.Row
	switch input.TargetStatus {
	case models.StatusServing:
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $3,
				service_start_time = $4,
				assigned_server_id = COALESCE(NULLIF($5, ''), assigned_server_id)
			WHERE entry_id = $1 AND status = $2
			RETURNING `+entryColumns, input.EntryID, current, models.StatusServing, occurredAt, input.ActorID)
	case models.StatusDone:
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $3,
				service_end_time = $4,
				consultation_notes = COALESCE(NULLIF($5, ''), consultation_notes)
			WHERE entry_id = $1 AND status = $2
			RETURNING `+entryColumns, input.EntryID, current, models.StatusDone, occurredAt, input.Notes)
	case models.StatusNoShow:
		row = tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $3
			WHERE entry_id = $1 AND status = $2
			RETURNING `+entryColumns, input.EntryID, current, models.StatusNoShow)
	default:
		err = store.ErrInvalidTransition
		return models.QueueEntry{}, err
	}

	var entry models.QueueEntry
	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The guarded update hit nothing: either the entry vanished or
			// its status moved between our read and the write.
			_, exists, loadErr := s.loadEntryStatus(ctx, input.EntryID)
			if loadErr != nil {
				err = loadErr
				return models.QueueEntry{}, err
			}
			if !exists {
				err = store.ErrEntryNotFound
				return models.QueueEntry{}, err
			}
			err = store.ErrAlreadyTransitioned
			return models.QueueEntry{}, err
		}
		return models.QueueEntry{}, err
	}

	eventType, changeKind := eventFor(input.TargetStatus, current)
	if err = insertOutboxEvent(ctx, tx, eventType, changeKind, entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) RemoveEntry(ctx context.Context, entryID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return classify(s.removeEntry(ctx, entryID))
}

func (s *Store) removeEntry(ctx context.Context, entryID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		DELETE FROM queue_entries
		WHERE entry_id = $1
		RETURNING `+entryColumns, entryID)
	var entry models.QueueEntry
	entry, err = scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return err
	}

	if err = insertOutboxEvent(ctx, tx, store.EventEntryRemoved, store.ChangeRemoved, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE entry_id = $1
	`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, classify(err)
	}
	return entry, true, nil
}

func (s *Store) ActiveQueue(ctx context.Context, clinicID string) ([]models.QueueEntry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE clinic_id = $1 AND status IN ('waiting', 'serving')
		ORDER BY arrival_time ASC, entry_id ASC
	`, clinicID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *Store) GetTicketStatus(ctx context.Context, clinicID, ticketNumber string) (models.QueueEntry, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE clinic_id = $1 AND ticket_number = $2
		ORDER BY arrival_time DESC
		LIMIT 1
	`, clinicID, ticketNumber)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, classify(err)
	}
	return entry, true, nil
}

func (s *Store) GetClinic(ctx context.Context, clinicID string) (models.Clinic, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	clinic, found, err := getClinic(ctx, s.pool, clinicID)
	return clinic, found, classify(err)
}

func (s *Store) ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]store.OutboxEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, clinic_id, type, payload_json, created_at
		FROM outbox_events
		WHERE clinic_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3
	`, clinicID, after, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *Store) loadEntryStatus(ctx context.Context, entryID string) (string, bool, error) {
	var status string
	row := s.pool.QueryRow(ctx, `
		SELECT status FROM queue_entries WHERE entry_id = $1
	`, entryID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func (s *Store) mirrorAppointment(ctx context.Context, appointmentID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $1
		WHERE appointment_id = $2
	`, status, appointmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAppointmentNotFound
	}
	return nil
}

func appointmentStatusFor(targetStatus string) string {
	switch targetStatus {
	case models.StatusDone:
		return models.AppointmentCompleted
	case models.StatusNoShow:
		return models.AppointmentNoShow
	default:
		return ""
	}
}

func eventFor(targetStatus, fromStatus string) (string, string) {
	switch targetStatus {
	case models.StatusServing:
		if fromStatus == models.StatusServing {
			return store.EventEntryServing, store.ChangeRecalled
		}
		return store.EventEntryServing, store.ChangeCalled
	case models.StatusDone:
		return store.EventEntryDone, store.ChangeDone
	default:
		return store.EventEntryNoShow, store.ChangeNoShow
	}
}

const entryColumns = `entry_id, clinic_id, appointment_id, ticket_number, patient_name, status,
		arrival_time, service_start_time, service_end_time, assigned_server_id, consultation_notes, request_id`

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var appointmentIDNull sql.NullString
	var startNull sql.NullTime
	var endNull sql.NullTime
	var serverNull sql.NullString
	var notesNull sql.NullString
	var requestIDNull sql.NullString
	if err := row.Scan(&entry.EntryID, &entry.ClinicID, &appointmentIDNull, &entry.TicketNumber,
		&entry.PatientName, &entry.Status, &entry.ArrivalTime, &startNull, &endNull,
		&serverNull, &notesNull, &requestIDNull); err != nil {
		return models.QueueEntry{}, err
	}
	entry.AppointmentID = nullStringPtr(appointmentIDNull)
	entry.ServiceStartTime = nullTimePtr(startNull)
	entry.ServiceEndTime = nullTimePtr(endNull)
	entry.AssignedServerID = nullStringPtr(serverNull)
	if notesNull.Valid {
		entry.ConsultationNotes = notesNull.String
	}
	if requestIDNull.Valid {
		entry.RequestID = requestIDNull.String
	}
	return entry, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findEntryByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.QueueEntry, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE request_id = $1
	`, requestID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func findOpenEntryByAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) (models.QueueEntry, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE appointment_id = $1 AND status IN ('waiting', 'serving')
		ORDER BY arrival_time ASC
		LIMIT 1
	`, appointmentID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, err
	}
	return entry, true, nil
}

func getAppointment(ctx context.Context, tx pgx.Tx, appointmentID, clinicID string) (models.Appointment, bool, error) {
	var appt models.Appointment
	var phoneNull sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT appointment_id, clinic_id, patient_name, phone, scheduled_at, ticket_code, status
		FROM appointments
		WHERE appointment_id = $1 AND clinic_id = $2
	`, appointmentID, clinicID)
	if err := row.Scan(&appt.AppointmentID, &appt.ClinicID, &appt.PatientName, &phoneNull,
		&appt.ScheduledAt, &appt.TicketCode, &appt.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, false, nil
		}
		return models.Appointment{}, false, err
	}
	if phoneNull.Valid {
		appt.Phone = phoneNull.String
	}
	return appt, true, nil
}

func getClinic(ctx context.Context, q queryer, clinicID string) (models.Clinic, bool, error) {
	var clinic models.Clinic
	var themeNull sql.NullString
	row := q.QueryRow(ctx, `
		SELECT clinic_id, name, location_label, open_time, close_time, timezone, display_theme
		FROM clinics
		WHERE clinic_id = $1
	`, clinicID)
	if err := row.Scan(&clinic.ClinicID, &clinic.Name, &clinic.LocationLabel,
		&clinic.OpenTime, &clinic.CloseTime, &clinic.Timezone, &themeNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Clinic{}, false, nil
		}
		return models.Clinic{}, false, err
	}
	if themeNull.Valid {
		clinic.DisplayTheme = themeNull.String
	}
	return clinic, true, nil
}

func nextWalkinNumber(ctx context.Context, tx pgx.Tx, clinicID string, issuedOn time.Time) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (clinic_id, issued_on, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (clinic_id, issued_on)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, clinicID, issuedOn)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, changeKind string, entry models.QueueEntry) error {
	payload, err := json.Marshal(store.ChangePayload{ChangeKind: changeKind, Entry: entry})
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, clinic_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), entry.ClinicID, eventType, payload, time.Now().UTC())
	return err
}

// clinicDay maps an instant to the clinic-local calendar date used for
// walk-in numbering. Unknown timezones fall back to UTC.
func clinicDay(at time.Time, timezone string) time.Time {
	loc := time.UTC
	if timezone != "" {
		if parsed, err := time.LoadLocation(timezone); err == nil {
			loc = parsed
		}
	}
	local := at.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return err
}
