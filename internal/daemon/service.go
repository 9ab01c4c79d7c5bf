// Package daemon provides the long-running background sync agent.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/autisense/autisense/internal/connectivity"
	"github.com/autisense/autisense/internal/logging"
	"github.com/autisense/autisense/internal/syncer"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Addr             string
	ProbeInterval    time.Duration
	EventsBuffer     int
	MaxRetries       int
	RequireCompleted bool
}

// Event is published after every flush attempt and connectivity change.
type Event struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Report    *syncer.Report `json:"report,omitempty"`
	Online    *bool          `json:"online,omitempty"`
}

// Event types.
const (
	EventFlush        = "flush"
	EventConnectivity = "connectivity"
)

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time      `json:"started_at"`
	Online          bool           `json:"online"`
	QueueDepth      int            `json:"queue_depth"`
	Exhausted       int            `json:"exhausted"`
	MaxRetries      int            `json:"max_retries"`
	FlushCount      int64          `json:"flush_count"`
	LastFlushAt     time.Time      `json:"last_flush_at"`
	LastReport      *syncer.Report `json:"last_report,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	EventCount      int            `json:"event_count"`
	SubscriberCount int            `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg     Config
	store   syncer.Store
	engine  *syncer.Engine
	monitor *connectivity.Monitor
	probe   func(context.Context) error
	log     *zap.Logger

	mu          sync.RWMutex
	startedAt   time.Time
	flushCount  int64
	lastFlushAt time.Time
	lastReport  *syncer.Report
	lastError   string
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a daemon service draining st through pusher. probe checks
// reachability of the ingest service; when nil the device is assumed
// online until told otherwise through /v1/connectivity.
func New(cfg Config, st syncer.Store, pusher syncer.Pusher, probe func(context.Context) error, log *zap.Logger) *Service {
	if cfg.ProbeInterval < time.Second {
		cfg.ProbeInterval = 15 * time.Second
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	log = logging.OrNop(log)

	s := &Service{
		cfg:       cfg,
		store:     st,
		monitor:   connectivity.New(probe == nil),
		probe:     probe,
		log:       log.Named("daemon"),
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
	s.engine = syncer.New(st, pusher, s.monitor, syncer.Options{
		MaxRetries:       cfg.MaxRetries,
		RequireCompleted: cfg.RequireCompleted,
		Logger:           log,
		OnReport:         s.recordReport,
	})
	return s
}

// Handler returns the daemon HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.HandleFunc("/v1/flush", s.handleFlush)
	mux.HandleFunc("/v1/connectivity", s.handleConnectivity)
	return mux
}

// Run starts the HTTP API, the connectivity prober and the flush trigger
// loop, and stops all of them when ctx is canceled or one fails.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if s.probe != nil {
		prober := &connectivity.Prober{
			Check:    s.probe,
			Interval: s.cfg.ProbeInterval,
			Monitor:  s.monitor,
			OnChange: func(online bool, err error) {
				if err != nil {
					s.log.Info("ingest service unreachable", zap.Error(err))
				}
				s.publishConnectivity(online)
			},
		}
		g.Go(func() error { return prober.Run(gctx) })
	}

	g.Go(func() error { return s.engine.Run(gctx, s.monitor) })

	s.log.Info("sync agent started", zap.String("addr", s.cfg.Addr))
	return g.Wait()
}

func (s *Service) recordReport(rep syncer.Report) {
	if rep.Skipped() {
		return
	}

	now := time.Now()
	s.mu.Lock()
	s.flushCount++
	s.lastFlushAt = now
	r := rep
	s.lastReport = &r
	s.lastError = ""
	if n := len(rep.Errors); n > 0 {
		s.lastError = rep.Errors[n-1]
	}
	s.nextEventID++
	ev := Event{ID: s.nextEventID, Type: EventFlush, Timestamp: now, Report: &r}
	s.mu.Unlock()

	s.publishEvent(ev)
}

func (s *Service) publishConnectivity(online bool) {
	s.mu.Lock()
	s.nextEventID++
	ev := Event{ID: s.nextEventID, Type: EventConnectivity, Timestamp: time.Now(), Online: &online}
	s.mu.Unlock()

	s.publishEvent(ev)
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) snapshotStatus(ctx context.Context) Status {
	st := Status{
		Online:     s.monitor.Online(),
		MaxRetries: s.engine.MaxRetries(),
	}

	entries, err := s.store.ListPendingSyncEntries(ctx)
	if err == nil {
		st.QueueDepth = len(entries)
		for _, e := range entries {
			if e.Exhausted(st.MaxRetries) {
				st.Exhausted++
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st.StartedAt = s.startedAt
	st.FlushCount = s.flushCount
	st.LastFlushAt = s.lastFlushAt
	st.LastReport = s.lastReport
	st.LastError = s.lastError
	if err != nil {
		st.LastError = "reading queue: " + err.Error()
	}
	st.EventCount = len(s.events)
	st.SubscriberCount = len(s.subs)
	return st
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus(r.Context()))
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rep, err := s.engine.RequestFlush(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Service) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	online, err := strconv.ParseBool(r.URL.Query().Get("online"))
	if err != nil {
		http.Error(w, "online must be true or false", http.StatusBadRequest)
		return
	}
	if s.monitor.Set(online) {
		s.log.Info("connectivity changed by request", zap.Bool("online", online))
		s.publishConnectivity(online)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"online": s.monitor.Online()})
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current status immediately.
	writeSSE(w, "status", s.snapshotStatus(r.Context()))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", eventType)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
