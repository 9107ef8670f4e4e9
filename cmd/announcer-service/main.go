package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/announce"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/config"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store/postgres"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type muteRequest struct {
	Enabled *bool `json:"enabled"`
}

func main() {
	cfg := config.LoadAnnouncer()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{})
	worker := announce.NewWorker(st, announce.NewSink(cfg.Sink), announce.Config{
		BatchSize:      cfg.BatchSize,
		RepeatInterval: cfg.RepeatInterval,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/clinics/", func(w http.ResponseWriter, r *http.Request) {
		handleMute(w, r, worker)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("announcer-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("announcer-service polling every %s", interval)
	announce.Start(ctx, interval, worker)
}

// handleMute lets a display mute or unmute its clinic's announcements:
// POST /api/clinics/{id}/announcements with {"enabled": bool}.
func handleMute(w http.ResponseWriter, r *http.Request, worker *announce.Worker) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/clinics/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "announcements" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID := parts[0]
	if _, err := uuid.Parse(clinicID); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	worker.SetEnabled(clinicID, *req.Enabled)
	log.Printf("announcements clinic=%s enabled=%v", clinicID, *req.Enabled)
	w.WriteHeader(http.StatusNoContent)
}
