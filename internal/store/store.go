package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/models"
)

type CheckInInput struct {
	RequestID     string
	ClinicID      string
	AppointmentID string
	PatientName   string
	ArrivedAt     time.Time
}

type TransitionInput struct {
	EntryID      string
	TargetStatus string
	ActorID      string
	Notes        string
	OccurredAt   time.Time
}

// EntryStore is the durable source of truth for queue entries. CheckIn
// reports whether a new entry was created; an existing entry is returned
// unchanged when the request id or appointment already produced one.
type EntryStore interface {
	CheckIn(ctx context.Context, input CheckInInput) (models.QueueEntry, bool, error)
	Transition(ctx context.Context, input TransitionInput) (models.QueueEntry, error)
	RemoveEntry(ctx context.Context, entryID string) error
	GetEntry(ctx context.Context, entryID string) (models.QueueEntry, bool, error)
	ActiveQueue(ctx context.Context, clinicID string) ([]models.QueueEntry, error)
	GetTicketStatus(ctx context.Context, clinicID, ticketNumber string) (models.QueueEntry, bool, error)
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, bool, error)
	ListOutboxEvents(ctx context.Context, clinicID string, after time.Time, limit int) ([]OutboxEvent, error)
}

// EventStore is the consumer side of the transactional outbox. Each
// consumer tracks its own offset so realtime fan-out and the announcer can
// progress independently.
type EventStore interface {
	ListOutboxEventsAfter(ctx context.Context, offset OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
	ListOffsets(ctx context.Context) ([]OutboxOffset, error)
	CleanupOutbox(ctx context.Context, before time.Time) error
	GetClinic(ctx context.Context, clinicID string) (models.Clinic, bool, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	ClinicID  string          `json:"clinic_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type OutboxOffset struct {
	Consumer      string
	LastEventTime time.Time
	LastEventID   string
}

// ChangePayload is the outbox event body: the full entry plus the kind of
// change. Consumers replace their cached entry by id, never patch it.
type ChangePayload struct {
	ChangeKind string            `json:"change_kind"`
	Entry      models.QueueEntry `json:"entry"`
}

const (
	ChangeCreated  = "created"
	ChangeCalled   = "called"
	ChangeRecalled = "recalled"
	ChangeDone     = "done"
	ChangeNoShow   = "no_show"
	ChangeRemoved  = "removed"
)

const (
	EventEntryCreated = "entry.created"
	EventEntryServing = "entry.serving"
	EventEntryDone    = "entry.done"
	EventEntryNoShow  = "entry.no_show"
	EventEntryRemoved = "entry.removed"
)
