// Package ingest implements the HTTP API that receives posted snapshots,
// keeps them in memory and raises high CPU alerts.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
	"github.com/reugn/hostwatch/alert"
	"github.com/reugn/hostwatch/internal/logger"
)

const (
	// DefaultThreshold is the CPU percentage above which an alert is raised.
	DefaultThreshold = 80.0

	maxBodyBytes         = 1 << 20
	defaultNotifyTimeout = 10 * time.Second
	requestIDHeader      = "X-Request-ID"
)

// metricsRequest is the wire form of a posted snapshot. Pointers detect
// missing fields.
type metricsRequest struct {
	CPUUsagePercent *float64 `json:"cpuUsagePercent"`
	RAMUsedMB       *float64 `json:"ramUsedMb"`
	DiskUsedMB      *float64 `json:"diskUsedMb"`
}

func (r *metricsRequest) snapshot() (hostwatch.Snapshot, error) {
	if r.CPUUsagePercent == nil || r.RAMUsedMB == nil || r.DiskUsedMB == nil {
		return hostwatch.Snapshot{}, errors.New("cpuUsagePercent, ramUsedMb and diskUsedMb are required")
	}
	return hostwatch.Snapshot{
		CPUUsagePercent: *r.CPUUsagePercent,
		RAMUsedMB:       *r.RAMUsedMB,
		DiskUsedMB:      *r.DiskUsedMB,
	}, nil
}

// Server serves the metrics API:
//
//	POST /api/metrics  append a snapshot, alert when CPU exceeds the threshold
//	GET  /api/metrics  list buffered snapshots in append order
//	GET  /health       liveness probe
type Server struct {
	buffer   *Buffer
	notifier alert.Notifier

	threshold     float64
	notifyTimeout time.Duration
	logger        *zap.Logger
}

// Opt is a functional option type used to configure a Server.
type Opt func(*Server)

// WithThreshold sets the CPU percentage that must be exceeded to alert.
func WithThreshold(threshold float64) Opt {
	return func(s *Server) {
		s.threshold = threshold
	}
}

// WithNotifyTimeout bounds the duration of a single alert delivery.
func WithNotifyTimeout(d time.Duration) Opt {
	return func(s *Server) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithLogger configures the request logger.
func WithLogger(l *zap.Logger) Opt {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer returns a new Server storing snapshots in buffer. A nil
// notifier disables alerting.
func NewServer(buffer *Buffer, notifier alert.Notifier, opts ...Opt) *Server {
	s := &Server{
		buffer:        buffer,
		notifier:      notifier,
		threshold:     DefaultThreshold,
		notifyTimeout: defaultNotifyTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/metrics", s.handlePost)
	mux.HandleFunc("GET /api/metrics", s.handleList)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s.withRequestID(mux)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.logger)

	var req metricsRequest
	if err := decodeBody(http.MaxBytesReader(w, r.Body, maxBodyBytes), &req); err != nil {
		log.Warn("Rejected metrics", zap.Error(err))
		http.Error(w, "invalid metrics payload", http.StatusBadRequest)
		return
	}
	snapshot, err := req.snapshot()
	if err != nil {
		log.Warn("Rejected metrics", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.buffer.Append(snapshot)
	log.Info("Received metrics",
		zap.Float64("cpu", snapshot.CPUUsagePercent),
		zap.Float64("ram_mb", snapshot.RAMUsedMB),
		zap.Float64("disk_mb", snapshot.DiskUsedMB))

	if s.notifier != nil && snapshot.CPUUsagePercent > s.threshold {
		s.notify(r.Context(), log, snapshot.CPUUsagePercent)
	}

	w.WriteHeader(http.StatusOK)
}

// notify delivers the alert. A failed delivery is logged and otherwise
// ignored; it does not change the response.
func (s *Server) notify(ctx context.Context, log *zap.Logger, cpu float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, alert.HighCPUMessage(cpu)); err != nil {
		log.Error("Failed to send alert", zap.Float64("cpu", cpu), zap.Error(err))
	}
}

// decodeBody decodes exactly one JSON value from r.
func decodeBody(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after the JSON object")
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.buffer.All())
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		l := logger.WithRequestID(s.logger, id).With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), l)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the server down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Ingestion server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("ingestion server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ingestion server shutdown: %w", err)
	}
	log.Info("Ingestion server stopped")
	return nil
}
