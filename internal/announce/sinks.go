package announce

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

// NewSink builds the announcement output for a display. "log" suits a
// terminal display or development; an http(s) URL posts to a TTS/audio
// gateway that plays the announcement.
func NewSink(kind string) Sink {
	switch {
	case kind == "" || kind == "stub" || kind == "log":
		return logSink{}
	case kind == "noop":
		return noopSink{}
	case strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://"):
		return webhookSink{url: kind}
	default:
		return logSink{}
	}
}

type logSink struct{}

func (logSink) Announce(a Announcement, message string) {
	log.Printf("announce clinic=%s ticket=%s: %s", a.ClinicID, a.TicketNumber, message)
}

type noopSink struct{}

func (noopSink) Announce(Announcement, string) {}

type webhookSink struct {
	url string
}

func (s webhookSink) Announce(a Announcement, message string) {
	payload := map[string]string{
		"clinic_id":     a.ClinicID,
		"ticket_number": a.TicketNumber,
		"message":       message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("announce payload error: %v", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("announce request error: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("announce send error: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("announce send error: %v", errors.New("gateway rejected request"))
	}
}
