package announce

import (
	"sync"
	"time"
)

// Announcement is everything a display needs to call a patient.
type Announcement struct {
	ClinicID      string
	EntryID       string
	TicketNumber  string
	PatientName   string
	LocationLabel string
}

// Sink receives rendered announcements (speaker, TTS gateway, display).
type Sink interface {
	Announce(a Announcement, message string)
}

// Scheduler drives the "now serving" announcements for one clinic. It
// remembers the last announced entry and its service start time: an event
// carrying either a different entry or a fresh service start is a new
// announcement, an identical event is a duplicate delivery and does
// nothing. While an entry stays announced the scheduler re-emits on a
// fixed interval until a new trigger fires, the entry leaves serving, or
// announcements are disabled.
type Scheduler struct {
	mu             sync.Mutex
	sink           Sink
	repeatInterval time.Duration
	enabled        bool

	lastEntryID string
	lastStart   time.Time
	timer       *time.Timer
}

func NewScheduler(sink Sink, repeatInterval time.Duration) *Scheduler {
	if repeatInterval <= 0 {
		repeatInterval = 15 * time.Second
	}
	return &Scheduler{sink: sink, repeatInterval: repeatInterval, enabled: true}
}

// ShouldAnnounce reports whether an incoming serving event is a fresh
// trigger. A re-call of the same entry carries a new service start time
// and therefore triggers again.
func (s *Scheduler) ShouldAnnounce(entryID string, serviceStart time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldAnnounceLocked(entryID, serviceStart)
}

func (s *Scheduler) shouldAnnounceLocked(entryID string, serviceStart time.Time) bool {
	if entryID != s.lastEntryID {
		return true
	}
	return !serviceStart.Equal(s.lastStart)
}

// Trigger announces a serving entry. Duplicate deliveries of the same
// event leave the armed repeat timer untouched.
func (s *Scheduler) Trigger(a Announcement, serviceStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	if !s.shouldAnnounceLocked(a.EntryID, serviceStart) {
		return
	}
	s.cancelTimerLocked()
	s.lastEntryID = a.EntryID
	s.lastStart = serviceStart
	s.sink.Announce(a, Message(a.TicketNumber, a.LocationLabel, a.PatientName))
	s.armLocked(a)
}

func (s *Scheduler) armLocked(a Announcement) {
	s.timer = time.AfterFunc(s.repeatInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.enabled || s.lastEntryID != a.EntryID {
			return
		}
		s.sink.Announce(a, Message(a.TicketNumber, a.LocationLabel, a.PatientName))
		s.armLocked(a)
	})
}

// Clear cancels the repeat for entryID, typically because it left the
// serving state or was removed. Other entries are unaffected.
func (s *Scheduler) Clear(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastEntryID != entryID {
		return
	}
	s.cancelTimerLocked()
	s.lastEntryID = ""
	s.lastStart = time.Time{}
}

// SetEnabled mutes or unmutes the clinic's announcements. Muting cancels
// any pending repeat immediately.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.cancelTimerLocked()
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked()
}

func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
