package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bitbar-composite/internal/storage"
)

var errAlreadyStarted = errors.New("web transport already started")

// ReportSource отдает последний отрендеренный отчет.
type ReportSource interface {
	LatestReport() (text string, ts time.Time, ok bool)
}

// Config определяет параметры HTTP-транспорта.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Adapter отдает отчет и историю прогонов по HTTP.
type Adapter struct {
	source ReportSource
	store  storage.Store
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
	addr   string
}

// NewAdapter создает web transport. store может быть nil, если история выключена.
func NewAdapter(source ReportSource, store storage.Store, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8089"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Adapter{
		source: source,
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "web"),
	}
}

func (a *Adapter) Name() string { return "web" }

// Addr возвращает фактический адрес после Start.
func (a *Adapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Start слушает адрес и останавливает сервер при отмене контекста.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.server != nil {
		a.mu.Unlock()
		return errAlreadyStarted
	}
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	srv := &http.Server{
		Handler:      a.Routes(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}
	a.server = srv
	a.addr = ln.Addr().String()
	a.mu.Unlock()

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.Stop(stopCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("web transport stopped", "err", err)
		}
	}()
	a.logger.Info("web transport started", "addr", a.addr)
	return nil
}

// Stop завершает HTTP server.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Routes возвращает HTTP-обработчик транспорта.
func (a *Adapter) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", a.handleHealth)
	r.Get("/v1/report", a.handleReport)
	r.Get("/v1/runs", a.handleRuns)
	r.Get("/v1/runs/latest", a.handleLatestRun)
	return r
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *Adapter) handleReport(w http.ResponseWriter, r *http.Request) {
	text, ts, ok := a.source.LatestReport()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "report_not_ready")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Last-Modified", ts.UTC().Format(http.TimeFormat))
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text+"\n")
}

func (a *Adapter) handleRuns(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, r, http.StatusNotFound, "history_disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = n
	}
	runs, err := a.store.QueryRuns(r.Context(), storage.RunQuery{Limit: limit})
	if err != nil {
		a.logger.Error("query runs", "err", err)
		writeError(w, r, http.StatusInternalServerError, "storage_error")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"request_id": middleware.GetReqID(r.Context()),
		"items":      runs,
	})
}

func (a *Adapter) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, r, http.StatusNotFound, "history_disabled")
		return
	}
	run, err := a.store.LatestRun(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "run_not_found")
		return
	}
	if err != nil {
		a.logger.Error("latest run", "err", err)
		writeError(w, r, http.StatusInternalServerError, "storage_error")
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code string) {
	writeJSON(w, r, statusCode, map[string]string{
		"request_id": middleware.GetReqID(r.Context()),
		"error_code": code,
		"message":    errorMessage(code),
	})
}

func errorMessage(code string) string {
	switch code {
	case "report_not_ready":
		return "report is not rendered yet"
	case "history_disabled":
		return "run history is disabled"
	case "run_not_found":
		return "no runs recorded"
	case "bad_limit":
		return "limit must be a positive integer"
	default:
		return "internal error"
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
