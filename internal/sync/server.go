package sync

import (
	"context"
	"encoding/json"
	"net/http"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/turbine-data/adsync/internal/stream"
)

type StreamState string

const (
	StreamRunning   StreamState = "running"
	StreamSucceeded StreamState = "succeeded"
	StreamFailed    StreamState = "failed"
)

// StreamStatus is the externally visible progress of one stream sync.
type StreamStatus struct {
	Stream        string      `json:"stream"`
	State         StreamState `json:"state"`
	RecordsSeen   int64       `json:"records_seen"`
	UsefulRecords int64       `json:"useful_records"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Server exposes per-stream sync progress over HTTP.
type Server struct {
	logger   *zap.Logger
	now      func() time.Time
	statuses map[string]*StreamStatus
	order    []string
	mu       gosync.RWMutex
}

func NewServer(logger *zap.Logger) *Server {
	return &Server{
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]*StreamStatus),
	}
}

func (s *Server) Begin(streamName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.statuses[streamName]; !exists {
		s.order = append(s.order, streamName)
	}
	s.statuses[streamName] = &StreamStatus{
		Stream:    streamName,
		State:     StreamRunning,
		StartedAt: s.now().UTC(),
	}
	s.logger.Info("stream sync started", zap.String("stream", streamName))
}

func (s *Server) Finish(streamName string, stats *stream.RunStats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, exists := s.statuses[streamName]
	if !exists {
		return
	}

	finished := s.now().UTC()
	status.FinishedAt = &finished
	status.RecordsSeen = stats.RecordsSeen
	status.UsefulRecords = stats.UsefulRecords
	if err != nil {
		status.State = StreamFailed
		status.Error = err.Error()
		return
	}
	status.State = StreamSucceeded
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api/v1/streams", func(r chi.Router) {
		r.Get("/", s.listStreams)
		r.Get("/{stream}", s.getStream)
	})

	return r
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	streams := make([]StreamStatus, 0, len(s.order))
	for _, name := range s.order {
		streams = append(streams, *s.statuses[name])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stream")

	s.mu.RLock()
	status, exists := s.statuses[name]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// ListenAndServe runs the status server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
