package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"studio/internal/api"
	"studio/internal/config"
	"studio/internal/jobqueue"
	"studio/internal/logging"
	"studio/internal/refresh"
)

const (
	maxImportBytes   = 512 << 20
	maxEnqueueBytes  = 16 << 20
	importMemory     = 32 << 20
	eventBuffer      = 32
	eventWriteWait   = 10 * time.Second
	eventPingPeriod  = 30 * time.Second
	eventReadTimeout = eventPingPeriod * 2
)

type apiServer struct {
	bind     string
	token    string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService
	limiter  *rate.Limiter
	upgrader websocket.Upgrader
	tempDir  string

	router http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		token:    strings.TrimSpace(cfg.Paths.APIToken),
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),
		limiter:  newLimiter(cfg.API.RateLimit, cfg.API.RateBurst),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		tempDir:  cfg.Paths.DataDir,
	}
	srv.router = srv.routes()
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(s.token))

		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/queue", s.handleQueue)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/current", s.handleCurrentJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/gallery", s.handleGallery)
		r.Get("/gallery/{index}", s.handleGallerySelect)
		r.Get("/gallery/prefix/{prefix}", s.handleGalleryPrefix)
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware(s.limiter))
			r.Post("/queue/refresh", s.handleQueue)
			r.Post("/queue/import", s.handleImport)
			r.Post("/queue/{action}", s.handleQueueAction)
			r.Post("/jobs", s.handleEnqueue)
			r.Post("/jobs/current/cancel", s.handleEndProcess)
		})
	})
	return r
}

func (s *apiServer) handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.router
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			r = r.WithContext(logging.WithRequestID(r.Context(), reqID))
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldCorrelationID, reqID),
		)
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		QueueDBPath:   status.QueueDBPath,
		LockFilePath:  status.LockFilePath,
		RunnerEnabled: status.RunnerEnabled,
		CurrentJobID:  status.CurrentJobID,
		QueueStats:    api.MergeQueueStats(status.QueueStats),
		Subscribers:   status.Subscribers,
		Dependencies:  api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.daemon.driver.LatestStats()
	if !ok {
		stats = s.daemon.stats.Sample(r.Context())
	}
	writeJSON(w, http.StatusOK, api.FromStats(stats))
}

// handleQueue serves both GET /api/queue and the explicit refresh trigger.
func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	snap := s.daemon.driver.Refresh(r.Context())
	writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (s *apiServer) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	action, ok := refresh.ParseAction(chi.URLParam(r, "action"))
	if !ok || action == refresh.ActionImport || action == refresh.ActionEndProcess {
		writeError(w, http.StatusNotFound, "unknown queue action")
		return
	}
	path := ""
	if action == refresh.ActionLoad {
		var body struct {
			Path string `json:"path"`
		}
		if err := decodeOptionalJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		path = body.Path
	}
	s.writeAction(w, s.daemon.driver.Mutate(r.Context(), action, path))
}

func (s *apiServer) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	path, cleanup, err := s.receiveUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()
	s.writeAction(w, s.daemon.driver.Mutate(r.Context(), refresh.ActionImport, path))
}

// receiveUpload spools the multipart "file" field to disk, keeping its
// extension so the importer can pick the format. A request without a file
// yields an empty path.
func (s *apiServer) receiveUpload(r *http.Request) (string, func(), error) {
	noop := func() {}
	if err := r.ParseMultipartForm(importMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return "", noop, nil
		}
		return "", noop, fmt.Errorf("parse upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", noop, nil
	}
	if err != nil {
		return "", noop, fmt.Errorf("read upload: %w", err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	tmp, err := os.CreateTemp(s.tempDir, "import-*"+ext)
	if err != nil {
		return "", noop, fmt.Errorf("spool upload: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		cleanup()
		return "", noop, fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("spool upload: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

func (s *apiServer) handleEndProcess(w http.ResponseWriter, r *http.Request) {
	s.writeAction(w, s.daemon.driver.EndProcess(r.Context()))
}

func (s *apiServer) writeAction(w http.ResponseWriter, res refresh.Result) {
	writeJSON(w, actionStatus(res.Err), api.FromResult(res))
}

func actionStatus(err error) int {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, jobqueue.ErrUnsupportedImport),
		errors.Is(err, fs.ErrNotExist),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobqueue.Status
	for _, value := range r.URL.Query()["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := jobqueue.ParseStatus(value)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}
	jobs, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queueSvc.Describe(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobqueue.ErrNotFound) || (err == nil && job == nil) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) handleCurrentJob(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.FromMonitor(s.daemon.reconciler.CurrentJob(r.Context())))
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEnqueueBytes)
	var req api.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	job, err := s.daemon.queue.Enqueue(r.Context(), api.ToJobRequest(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.daemon.driver.Refresh(r.Context())
	writeJSON(w, http.StatusCreated, api.FromJob(*job))
}

func (s *apiServer) handleGallery(w http.ResponseWriter, r *http.Request) {
	entries, err := s.daemon.gallery.ListEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromEntries(entries))
}

func (s *apiServer) handleGallerySelect(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gallery index")
		return
	}
	entries, err := s.daemon.gallery.ListEntries(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sel, err := s.daemon.gallery.Select(r.Context(), entries, &index)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromSelection(sel))
}

func (s *apiServer) handleGalleryPrefix(w http.ResponseWriter, r *http.Request) {
	asset, err := s.daemon.gallery.ResolveAsset(r.Context(), chi.URLParam(r, "prefix"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.FromAsset(asset))
}

// handleEvents streams refresh events over a websocket. The latest queue
// snapshot and stats sample are sent first so a client renders immediately.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.daemon.driver.Hub().Subscribe(eventBuffer)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(eventReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(eventReadTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(evt api.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		return conn.WriteJSON(evt)
	}

	snap := s.daemon.driver.LastSnapshot()
	layout := s.daemon.driver.Layout()
	initial := refresh.Event{Kind: refresh.EventQueue, Timestamp: time.Now().UTC(), Queue: &snap, Layout: &layout}
	if stats, ok := s.daemon.driver.LatestStats(); ok {
		initial.Stats = &stats
	}
	if err := send(api.FromEvent(initial)); err != nil {
		return
	}

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := send(api.FromEvent(evt)); err != nil {
				return
			}
		}
	}
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
