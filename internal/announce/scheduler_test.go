package announce

import (
	"sync"
	"testing"
	"time"
)

type recordSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordSink) Announce(a Announcement, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func TestSchedulerDuplicateDelivery(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, time.Hour)
	t.Cleanup(sched.Stop)

	start := time.Now()
	a := Announcement{EntryID: "e1", TicketNumber: "W-001"}
	sched.Trigger(a, start)
	sched.Trigger(a, start)
	sched.Trigger(a, start)

	if got := sink.count(); got != 1 {
		t.Fatalf("expected 1 announcement for duplicate deliveries, got %d", got)
	}
}

func TestSchedulerRecallAnnouncesAgain(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, time.Hour)
	t.Cleanup(sched.Stop)

	start := time.Now()
	a := Announcement{EntryID: "e1", TicketNumber: "W-001"}
	sched.Trigger(a, start)
	sched.Trigger(a, start.Add(time.Minute))

	if got := sink.count(); got != 2 {
		t.Fatalf("expected re-call to announce again, got %d announcements", got)
	}
}

func TestSchedulerNewEntryReplaces(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, time.Hour)
	t.Cleanup(sched.Stop)

	sched.Trigger(Announcement{EntryID: "e1", TicketNumber: "W-001"}, time.Now())
	sched.Trigger(Announcement{EntryID: "e2", TicketNumber: "W-002"}, time.Now())

	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 announcements, got %d", got)
	}
	// Clearing the superseded entry does not touch the current one.
	sched.Clear("e1")
	sched.Trigger(Announcement{EntryID: "e2", TicketNumber: "W-002"}, time.Now().Add(time.Minute))
	if got := sink.count(); got != 3 {
		t.Fatalf("expected re-call of current entry to announce, got %d", got)
	}
}

func TestSchedulerRepeats(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, 20*time.Millisecond)
	t.Cleanup(sched.Stop)

	sched.Trigger(Announcement{EntryID: "e1", TicketNumber: "W-001"}, time.Now())
	time.Sleep(70 * time.Millisecond)

	if got := sink.count(); got < 2 {
		t.Fatalf("expected repeated announcements, got %d", got)
	}
}

func TestSchedulerClearStopsRepeat(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, 20*time.Millisecond)
	t.Cleanup(sched.Stop)

	sched.Trigger(Announcement{EntryID: "e1", TicketNumber: "W-001"}, time.Now())
	sched.Clear("e1")
	time.Sleep(70 * time.Millisecond)

	if got := sink.count(); got != 1 {
		t.Fatalf("expected no repeats after clear, got %d", got)
	}
}

func TestSchedulerMute(t *testing.T) {
	sink := &recordSink{}
	sched := NewScheduler(sink, time.Hour)
	t.Cleanup(sched.Stop)

	sched.SetEnabled(false)
	sched.Trigger(Announcement{EntryID: "e1", TicketNumber: "W-001"}, time.Now())
	if got := sink.count(); got != 0 {
		t.Fatalf("expected no announcements while muted, got %d", got)
	}

	sched.SetEnabled(true)
	sched.Trigger(Announcement{EntryID: "e1", TicketNumber: "W-001"}, time.Now())
	if got := sink.count(); got != 1 {
		t.Fatalf("expected announcement after unmute, got %d", got)
	}
}

func TestMessage(t *testing.T) {
	cases := []struct {
		name     string
		ticket   string
		location string
		patient  string
		want     string
	}{
		{
			name:     "full",
			ticket:   "W-004",
			location: "Room 3",
			patient:  "Grace Hopper",
			want:     "Now serving ticket W-004, Grace Hopper, please proceed to Room 3.",
		},
		{
			name:     "placeholder name",
			ticket:   "W-004",
			location: "Room 3",
			patient:  "Walk-in Patient",
			want:     "Now serving ticket W-004, please proceed to Room 3.",
		},
		{
			name:   "no location",
			ticket: "A-017",
			want:   "Now serving ticket A-017.",
		},
		{
			name:    "name without location",
			ticket:  "A-017",
			patient: "Ada",
			want:    "Now serving ticket A-017, Ada.",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := Message(tt.ticket, tt.location, tt.patient); got != tt.want {
				t.Fatalf("Message()=%q, want %q", got, tt.want)
			}
		})
	}
}
