package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/announce"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/models"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"
)

func TestExtractMeta(t *testing.T) {
	payload, err := json.Marshal(store.ChangePayload{
		ChangeKind: store.ChangeCalled,
		Entry:      models.QueueEntry{EntryID: "e1", ClinicID: "c1", TicketNumber: "W-004"},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	meta := extractMeta(store.OutboxEvent{EventID: "ev1", ClinicID: "c1", Type: store.EventEntryServing, Payload: payload})
	if meta.ClinicID != "c1" || meta.TicketNumber != "W-004" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	// Broken payloads still route by clinic.
	meta = extractMeta(store.OutboxEvent{EventID: "ev2", ClinicID: "c1", Payload: []byte("not json")})
	if meta.ClinicID != "c1" || meta.TicketNumber != "" {
		t.Fatalf("expected clinic-only meta for broken payload, got %+v", meta)
	}
}

type offsetStore struct {
	store.EventStore
	offsets []store.OutboxOffset
}

func (s *offsetStore) ListOffsets(_ context.Context) ([]store.OutboxOffset, error) {
	return s.offsets, nil
}

func TestCleanupCutoff(t *testing.T) {
	older := time.Now().UTC().Add(-time.Minute)
	newer := time.Now().UTC()

	st := &offsetStore{offsets: []store.OutboxOffset{
		{Consumer: realtimeConsumer, LastEventTime: newer},
		{Consumer: announce.Consumer, LastEventTime: older},
	}}
	cutoff, ok := cleanupCutoff(context.Background(), st)
	if !ok {
		t.Fatalf("expected a cutoff")
	}
	if !cutoff.Equal(older) {
		t.Fatalf("expected oldest offset as cutoff, got %s", cutoff)
	}

	// A consumer that has not caught up yet blocks cleanup entirely.
	st.offsets = append(st.offsets, store.OutboxOffset{Consumer: "fresh"})
	if _, ok := cleanupCutoff(context.Background(), st); ok {
		t.Fatalf("expected no cutoff with a zero offset present")
	}

	st.offsets = nil
	if _, ok := cleanupCutoff(context.Background(), st); ok {
		t.Fatalf("expected no cutoff without offsets")
	}
}

func TestCleanupCutoffWaitsForAnnouncer(t *testing.T) {
	// The announcer writes its offset only after its first batch. Until its
	// row exists, nothing may be deleted or a cold-started announcer loses
	// the backlog.
	st := &offsetStore{offsets: []store.OutboxOffset{
		{Consumer: realtimeConsumer, LastEventTime: time.Now().UTC()},
	}}
	if _, ok := cleanupCutoff(context.Background(), st); ok {
		t.Fatalf("expected no cutoff while the announcer offset is missing")
	}

	st.offsets = append(st.offsets, store.OutboxOffset{
		Consumer:      announce.Consumer,
		LastEventTime: time.Now().UTC().Add(-time.Minute),
	})
	if _, ok := cleanupCutoff(context.Background(), st); !ok {
		t.Fatalf("expected a cutoff once every required consumer has an offset")
	}
}
