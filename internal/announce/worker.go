package announce

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"
)

const Consumer = "announcer"

// Worker tails the outbox and feeds the per-clinic schedulers. Delivery
// from the outbox is at-least-once; the scheduler's trigger predicate
// absorbs duplicates, so replaying events after a crash is harmless.
type Worker struct {
	store     store.EventStore
	sink      Sink
	batchSize int
	interval  time.Duration

	mu         sync.Mutex
	schedulers map[string]*Scheduler
	locations  map[string]string
}

type Config struct {
	BatchSize      int
	RepeatInterval time.Duration
}

func NewWorker(eventStore store.EventStore, sink Sink, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	interval := cfg.RepeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Worker{
		store:      eventStore,
		sink:       sink,
		batchSize:  batch,
		interval:   interval,
		schedulers: make(map[string]*Scheduler),
		locations:  make(map[string]string),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	offset, err := w.store.GetOffset(ctx, Consumer)
	if err != nil {
		return err
	}

	events, err := w.store.ListOutboxEventsAfter(ctx, offset, w.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			log.Printf("announce process error: %v", err)
		}
		offset.LastEventTime = event.CreatedAt
		offset.LastEventID = event.EventID
	}

	if len(events) > 0 {
		if err := w.store.UpdateOffset(ctx, Consumer, offset); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	var change store.ChangePayload
	if err := json.Unmarshal(event.Payload, &change); err != nil {
		return err
	}
	entry := change.Entry

	switch event.Type {
	case store.EventEntryServing:
		if entry.ServiceStartTime == nil {
			return nil
		}
		sched := w.scheduler(entry.ClinicID)
		sched.Trigger(Announcement{
			ClinicID:      entry.ClinicID,
			EntryID:       entry.EntryID,
			TicketNumber:  entry.TicketNumber,
			PatientName:   entry.PatientName,
			LocationLabel: w.location(ctx, entry.ClinicID),
		}, *entry.ServiceStartTime)
	case store.EventEntryDone, store.EventEntryNoShow, store.EventEntryRemoved:
		w.scheduler(entry.ClinicID).Clear(entry.EntryID)
	}
	return nil
}

func (w *Worker) scheduler(clinicID string) *Scheduler {
	w.mu.Lock()
	defer w.mu.Unlock()
	sched, ok := w.schedulers[clinicID]
	if !ok {
		sched = NewScheduler(w.sink, w.interval)
		w.schedulers[clinicID] = sched
	}
	return sched
}

func (w *Worker) location(ctx context.Context, clinicID string) string {
	w.mu.Lock()
	label, ok := w.locations[clinicID]
	w.mu.Unlock()
	if ok {
		return label
	}
	clinic, found, err := w.store.GetClinic(ctx, clinicID)
	if err != nil || !found {
		if err != nil {
			log.Printf("announce clinic lookup error: %v", err)
		}
		return ""
	}
	w.mu.Lock()
	w.locations[clinicID] = clinic.LocationLabel
	w.mu.Unlock()
	return clinic.LocationLabel
}

// SetEnabled mutes or unmutes a clinic's announcements.
func (w *Worker) SetEnabled(clinicID string, enabled bool) {
	w.scheduler(clinicID).SetEnabled(enabled)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sched := range w.schedulers {
		sched.Stop()
	}
}

// Start runs the worker on a fixed interval until ctx is cancelled.
func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("announce worker error: %v", err)
			}
		}
	}
}
