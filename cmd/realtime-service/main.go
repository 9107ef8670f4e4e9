package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/thecoachmanuel/opd-qms-sub000/internal/announce"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/config"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/httpapi"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/hub"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/store/postgres"
	"github.com/thecoachmanuel/opd-qms-sub000/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const realtimeConsumer = "realtime"

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.LoadRealtime()
	shutdownTelemetry := telemetry.Setup("realtime-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{})
	h := hub.New()
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
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
	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{
				ClinicID:     parsed.ClinicID,
				TicketNumber: parsed.TicketNumber,
			})
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "realtime-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	offset, err := st.GetOffset(context.Background(), realtimeConsumer)
	if err != nil {
		log.Printf("load offset error: %v", err)
	}
	if offset.LastEventTime.IsZero() {
		offset.LastEventTime = time.Unix(0, 0).UTC()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	var running int32

	go func() {
		log.Printf("realtime-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			events, err := st.ListOutboxEventsAfter(ctx, offset, cfg.BatchSize)
			cancel()
			if err == nil {
				for _, event := range events {
					offset.LastEventTime = event.CreatedAt
					offset.LastEventID = event.EventID
					env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
					payload, _ := json.Marshal(env)
					h.Broadcast(payload, extractMeta(event))
				}
				if len(events) > 0 {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := st.UpdateOffset(ctx, realtimeConsumer, offset); err != nil {
						log.Printf("update offset error: %v", err)
					}
					if before, ok := cleanupCutoff(ctx, st); ok {
						if err := st.CleanupOutbox(ctx, before); err != nil {
							log.Printf("cleanup outbox error: %v", err)
						}
					}
					cancel()
				}
			}
			atomic.StoreInt32(&running, 0)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// extractMeta pulls the routing scope out of the event payload so the hub
// can match both clinic-wide and single-ticket subscriptions.
func extractMeta(event store.OutboxEvent) hub.Subscription {
	var change store.ChangePayload
	if err := json.Unmarshal(event.Payload, &change); err != nil {
		return hub.Subscription{ClinicID: event.ClinicID}
	}
	return hub.Subscription{
		ClinicID:     event.ClinicID,
		TicketNumber: change.Entry.TicketNumber,
	}
}

// requiredConsumers must all have a recorded, non-zero offset before any
// outbox row may be deleted. A consumer that has never written its offset
// (cold start) would otherwise be invisible to the cutoff and lose the
// backlog it has not seen yet.
var requiredConsumers = []string{realtimeConsumer, announce.Consumer}

// cleanupCutoff returns the oldest offset across all consumers: outbox rows
// older than that have been seen by everyone and can go.
func cleanupCutoff(ctx context.Context, st store.EventStore) (time.Time, bool) {
	offsets, err := st.ListOffsets(ctx)
	if err != nil {
		log.Printf("list offsets error: %v", err)
		return time.Time{}, false
	}
	byConsumer := make(map[string]time.Time, len(offsets))
	for _, offset := range offsets {
		byConsumer[offset.Consumer] = offset.LastEventTime
	}
	for _, consumer := range requiredConsumers {
		if byConsumer[consumer].IsZero() {
			return time.Time{}, false
		}
	}
	var cutoff time.Time
	for _, offset := range offsets {
		if offset.LastEventTime.IsZero() {
			return time.Time{}, false
		}
		if cutoff.IsZero() || offset.LastEventTime.Before(cutoff) {
			cutoff = offset.LastEventTime
		}
	}
	if cutoff.IsZero() {
		return time.Time{}, false
	}
	return cutoff, true
}
