package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autisense/autisense/internal/logging"
	"github.com/autisense/autisense/internal/model"

	"go.uber.org/zap"
)

const (
	maxBodyBytes     = 1 << 20 // 1 MiB
	defaultRetention = 365 * 24 * time.Hour
	purgeInterval    = time.Hour
)

// forbiddenKeys are identifying fields that must never be uploaded,
// compared in lower case.
var forbiddenKeys = map[string]bool{
	"childname":  true,
	"child_name": true,
}

// Config controls the ingest service.
type Config struct {
	Addr      string
	Retention time.Duration
	// Now overrides the clock used for ttl.
	Now func() time.Time
}

// Service is the ingest HTTP service.
type Service struct {
	cfg     Config
	backend Backend
	log     *zap.Logger
}

// New returns an ingest service writing to backend.
func New(cfg Config, backend Backend, log *zap.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, backend: backend, log: logging.OrNop(log).Named("ingest")}
}

// Handler returns the service routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/sync", s.handleSync)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("ingest service listening", zap.String("addr", s.cfg.Addr))

	var purge <-chan time.Time
	purger, canPurge := s.backend.(Purger)
	if canPurge {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		purge = ticker.C
		s.purgeOnce(ctx, purger)
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-purge:
			s.purgeOnce(ctx, purger)
		case err := <-errCh:
			return fmt.Errorf("ingest http server: %w", err)
		}
	}
}

func (s *Service) purgeOnce(ctx context.Context, p Purger) {
	n, err := p.PurgeExpired(ctx, s.cfg.Now().Unix())
	if err != nil {
		s.log.Error("purging expired records", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("purged expired records", zap.Int64("records", n))
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respond(w, http.StatusMethodNotAllowed, model.SyncResponse{Error: "method not allowed"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "Invalid JSON body"})
		return
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil || generic == nil {
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "Invalid JSON body"})
		return
	}
	if _, ok := generic["session"].(map[string]any); !ok {
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "Missing required fields: session.id, session.userId"})
		return
	}

	if path, found := findForbiddenKey(generic, ""); found {
		s.log.Error("PII field detected in payload, rejecting",
			zap.Bool("policy_breach", true),
			zap.String("field", path),
			zap.String("remote_addr", r.RemoteAddr),
		)
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "PII field detected in payload"})
		return
	}

	var req model.SyncRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "Invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Session.ID) == "" || strings.TrimSpace(req.Session.UserID) == "" {
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "Missing required fields: session.id, session.userId"})
		return
	}

	// The aggregate is keyed by the session it arrived with.
	if req.Biomarkers != nil && req.Biomarkers.SessionID != "" && req.Biomarkers.SessionID != req.Session.ID {
		s.log.Warn("aggregate session id mismatch, rejecting",
			zap.String("session_id", req.Session.ID),
			zap.String("aggregate_session_id", req.Biomarkers.SessionID),
		)
		respond(w, http.StatusBadRequest, model.SyncResponse{Error: "biomarkers.sessionId does not match session.id"})
		return
	}

	ctx := r.Context()
	ttl := s.cfg.Now().Add(s.cfg.Retention).Unix()
	log := s.log.With(zap.String("session_id", req.Session.ID))

	written, err := s.backend.PutSessionIfAbsent(ctx, SessionRecord{SessionPayload: req.Session, TTL: ttl})
	if err != nil {
		log.Error("failed to write session", zap.Error(err))
		respond(w, http.StatusInternalServerError, model.SyncResponse{Error: "Failed to write session"})
		return
	}
	if written {
		log.Info("session written")
	} else {
		log.Info("session already exists, skipping")
	}

	// The aggregate may have changed since first delivery; write it either way.
	if req.Biomarkers != nil {
		agg := *req.Biomarkers
		agg.SessionID = req.Session.ID
		err := s.backend.PutAggregate(ctx, AggregateRecord{
			BiomarkerAggregate: agg,
			UserID:             req.Session.UserID,
			CreatedAt:          req.Session.CreatedAt,
			TTL:                ttl,
		})
		if err != nil {
			log.Error("failed to write aggregate", zap.Error(err))
		}
	}

	resp := model.SyncResponse{OK: true, SessionID: req.Session.ID}
	if !written {
		resp.Note = model.NoteAlreadyExists
	}
	respond(w, http.StatusOK, resp)
}

// findForbiddenKey walks decoded JSON and returns the dotted path of the
// first identifying key at any depth.
func findForbiddenKey(v any, path string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if forbiddenKeys[strings.ToLower(k)] {
				return p, true
			}
			if found, ok := findForbiddenKey(child, p); ok {
				return found, true
			}
		}
	case []any:
		for i, child := range t {
			if found, ok := findForbiddenKey(child, fmt.Sprintf("%s[%d]", path, i)); ok {
				return found, true
			}
		}
	}
	return "", false
}

func respond(w http.ResponseWriter, status int, body model.SyncResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
