package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneymind/internal/config"
	"moneymind/internal/logging"
	"moneymind/internal/netmon"
	"moneymind/internal/queue"
	"moneymind/internal/upload"
)

// maxSubmitMemory bounds the multipart form kept in memory before spilling to disk.
const maxSubmitMemory = 32 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// SubmitResponse wraps per-file outcomes of POST /api/uploads.
type SubmitResponse struct {
	Results []upload.Outcome `json:"results"`
}

// ListResponse wraps GET /api/uploads.
type ListResponse struct {
	Items []*queue.Record `json:"items"`
}

// ClearResponse reports how many failed records were removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// NetworkReport is accepted by POST /api/network so a client can relay its
// own online/offline transitions.
type NetworkReport struct {
	Online        bool   `json:"online"`
	EffectiveType string `json:"effective_type,omitempty"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/network", s.handleNetwork)
	mux.HandleFunc("/api/uploads", s.handleUploads)
	mux.HandleFunc("/api/uploads/stats", s.handleStats)
	mux.HandleFunc("/api/uploads/sync", s.handleSync)
	mux.HandleFunc("/api/uploads/failed", s.handleFailed)
	mux.HandleFunc("/api/uploads/health", s.handleHealth)
	if s.daemon.metrics != nil {
		mux.Handle("/metrics", s.daemon.metrics.Handler())
	}
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleNetwork(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.daemon.monitor.Status())
	case http.MethodPost:
		var report NetworkReport
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&report); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid network report")
			return
		}
		s.daemon.ReportNetwork(netmon.Signal{Online: report.Online, EffectiveType: report.EffectiveType})
		s.writeJSON(w, http.StatusOK, s.daemon.monitor.Status())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleUploads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodPost:
		s.handleSubmit(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var status queue.Status
	if value := strings.TrimSpace(r.URL.Query().Get("status")); value != "" {
		parsed, err := queue.ParseStatus(value)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	items, err := s.daemon.List(r.Context(), status)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Items: items})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := logging.WithRequestID(r.Context(), requestID)
	logger := logging.WithContext(ctx, s.log())

	if err := r.ParseMultipartForm(maxSubmitMemory); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart form with images")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		s.writeError(w, http.StatusBadRequest, "no images provided")
		return
	}
	var options queue.Options
	if raw := strings.TrimSpace(r.FormValue("options")); raw != "" {
		parsed, err := queue.ParseOptions(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "options must be a JSON object")
			return
		}
		options = parsed
	}
	files := make([]upload.File, 0, len(headers))
	for _, header := range headers {
		file, err := readPart(header)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		files = append(files, file)
	}

	results := s.daemon.Submit(ctx, files, strings.TrimSpace(r.FormValue("owner_id")), options)
	logger.Info("submission handled",
		logging.String(logging.FieldEventType, "api_submit"),
		logging.Int("files", len(files)),
	)
	s.writeJSON(w, http.StatusOK, SubmitResponse{Results: results})
}

func readPart(header *multipart.FileHeader) (upload.File, error) {
	part, err := header.Open()
	if err != nil {
		return upload.File{}, fmt.Errorf("open %s: %w", header.Filename, err)
	}
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		return upload.File{}, fmt.Errorf("read %s: %w", header.Filename, err)
	}
	return upload.File{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.daemon.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result, err := s.daemon.Sync(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	removed, err := s.daemon.ClearFailed(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.DatabaseHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
