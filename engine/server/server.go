package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chatterflow/chatterflow/pkg/metrics"
	"github.com/chatterflow/chatterflow/pkg/mid"
	"github.com/chatterflow/chatterflow/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Server hosts per-session compiled graphs over HTTP.
type Server struct {
	cfg      Config
	sessions *Manager
	log      *slog.Logger
	met      *metrics.Registry
	nc       *nats.Conn

	mProcess  *metrics.Counter
	mErrors   *metrics.Counter
	mSessions *metrics.Counter
	mDuration *metrics.Histogram
}

// New creates a Server. When cfg.NATSUrl is set, output events are
// mirrored onto cfg.EventSubject.
func New(cfg Config) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg.Logger = log

	met := metrics.New()
	s := &Server{
		cfg:      cfg,
		sessions: NewManager(cfg),
		log:      log,
		met:      met,

		mProcess:  met.Counter("chatterflow_process_requests_total", "Process requests handled"),
		mErrors:   met.Counter("chatterflow_process_errors_total", "Processor errors"),
		mSessions: met.Counter("chatterflow_sessions_created_total", "Sessions created"),
		mDuration: met.Histogram("chatterflow_process_duration_seconds", "Per-request processor time", nil),
	}

	if cfg.NATSUrl != "" {
		nc, err := natsutil.Connect(cfg.NATSUrl)
		if err != nil {
			return nil, fmt.Errorf("server: nats connect: %w", err)
		}
		s.nc = nc
	}
	s.sessions.OnOutput = s.mirrorEvent
	return s, nil
}

// Handler builds the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream", s.handleStreamPage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.met.Handler())

	api := http.NewServeMux()
	api.HandleFunc("POST /process", s.handleProcess)
	api.HandleFunc("GET /output-stream", s.handleOutputStream)
	api.HandleFunc("GET /history", s.handleGetHistory)
	api.HandleFunc("DELETE /history", s.handleClearHistory)
	api.HandleFunc("GET /form-config", s.handleFormConfig)

	var apiHandler http.Handler = api
	if s.cfg.RequireAuth {
		apiHandler = mid.Chain(api, mid.APIKey(s.cfg.APIKey))
	}
	mux.Handle("/process", apiHandler)
	mux.Handle("/output-stream", apiHandler)
	mux.Handle("/history", apiHandler)
	mux.Handle("/form-config", apiHandler)

	return mid.Chain(mux,
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.CORSList(s.cfg.AllowedOrigins()),
		mid.OTel("chatterflow-server"),
	)
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.sessions.StartCleanup(ctx, s.cfg.CleanupInterval, s.cfg.SessionTTL)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "port", s.cfg.Port, "title", s.cfg.Title)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// session resolves the request's session from its cookie, minting and
// setting a fresh cookie when absent. Unknown IDs are re-adopted.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *Session {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	sess, created := s.sessions.GetOrCreate(id)
	if created {
		s.mSessions.Inc()
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    sess.ID,
			Path:     "/",
			MaxAge:   int(s.cfg.SessionTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	sess.Touch()
	return sess
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      s.cfg.Port,
	})
}

func (s *Server) handleFormConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Form)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	s.mProcess.Inc()

	if !sess.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"status":  "error",
			"message": "rate limit exceeded",
		})
		return
	}

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"status":  "error",
			"message": "invalid JSON body",
		})
		return
	}

	start := time.Now()
	outputs, err := sess.Process(r.Context(), input)
	s.mDuration.Since(start)

	if err != nil {
		s.mErrors.Inc()
		s.log.Error("processor failed", "session", sess.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    "error",
			"message":   err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("processed %d output item(s)", len(outputs)),
		"data": map[string]any{
			"input":  input,
			"output": outputs,
			"count":  len(outputs),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// mirrorEvent forwards one output event to NATS.
func (s *Server) mirrorEvent(ev Event) {
	if s.nc == nil {
		return
	}
	if err := natsutil.Publish(context.Background(), s.nc, s.cfg.EventSubject, ev); err != nil {
		s.log.Warn("event mirror failed", "error", err)
	}
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries := sess.History(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)
	sess.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "history cleared",
	})
}

// handleOutputStream serves the session's output queue as server-sent
// events. The loop polls roughly every 100ms and emits a heartbeat comment
// when idle.
func (s *Server) handleOutputStream(w http.ResponseWriter, r *http.Request) {
	sess := s.session(w, r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	lastWrite := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := sess.DrainOutput()
			if len(events) == 0 {
				if time.Since(lastWrite) >= 15*time.Second {
					fmt.Fprint(w, ": heartbeat\n\n")
					flusher.Flush()
					lastWrite = time.Now()
				}
				continue
			}
			for _, ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
			}
			flusher.Flush()
			lastWrite = time.Now()
		}
	}
}
