package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"bitbar-composite/internal/config"
	"bitbar-composite/internal/core"
	"bitbar-composite/internal/modules/host"
	"bitbar-composite/internal/storage"
	"bitbar-composite/internal/storage/sqlite"
	"bitbar-composite/internal/transports/web"
)

// Report - результат одного прогона плагинов.
type Report struct {
	Blocks   []string
	Outcomes []core.Outcome
	TS       time.Time
}

// Text возвращает отчет одним текстом для хоста меню.
func (r Report) Text() string { return core.Join(r.Blocks) }

// Failures считает плагины, завершившиеся ошибкой.
func (r Report) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Option настраивает App.
type Option func(*options)

type options struct {
	launcher core.Launcher
	store    storage.Store
}

// WithLauncher подменяет запуск внешних процессов.
func WithLauncher(l core.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// WithStore задает хранилище истории вместо SQLite из конфига.
func WithStore(st storage.Store) Option {
	return func(o *options) { o.store = st }
}

// App агрегирует зависимости composite-плагина.
type App struct {
	Config   config.Config
	Specs    []core.PluginSpec
	Registry *core.Registry
	Executor *core.Executor
	Store    storage.Store

	logger     *slog.Logger
	refreshing atomic.Bool
	mu         sync.RWMutex
	latest     *Report
}

// NewApp строит приложение: реестр встроенных модулей, executor и хранилище.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	o := options{launcher: &core.ExecLauncher{}}
	for _, opt := range opts {
		opt(&o)
	}

	r := core.NewRegistry(o.launcher)
	if err := r.Register(ctx, &host.Module{}); err != nil {
		return nil, fmt.Errorf("register host module: %w", err)
	}

	st := o.store
	if st == nil && cfg.History.Enabled {
		s, err := sqlite.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		st = s
	}

	return &App{
		Config:   cfg,
		Specs:    cfg.Specs(),
		Registry: r,
		Executor: core.NewExecutor(core.TimeoutLauncher{Next: r}, logger),
		Store:    st,
		logger:   logger,
	}, nil
}

// Close высвобождает ресурсы приложения.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// RunOnce запускает все плагины и рендерит отчет. Ошибки истории только логируются.
func (a *App) RunOnce(ctx context.Context) Report {
	outcomes := a.Executor.Execute(ctx, a.Specs)
	rep := Report{
		Blocks:   core.Format(a.Specs, outcomes),
		Outcomes: outcomes,
		TS:       time.Now().UTC(),
	}
	a.mu.Lock()
	a.latest = &rep
	a.mu.Unlock()

	if a.Store != nil {
		if err := a.record(ctx, rep); err != nil {
			a.logger.Warn("history not recorded", "err", err)
		}
	}
	return rep
}

// Latest возвращает последний отчет, если он уже есть.
func (a *App) Latest() (Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return Report{}, false
	}
	return *a.latest, true
}

// LatestReport реализует web.ReportSource.
func (a *App) LatestReport() (string, time.Time, bool) {
	rep, ok := a.Latest()
	if !ok {
		return "", time.Time{}, false
	}
	return rep.Text(), rep.TS, true
}

func (a *App) record(ctx context.Context, rep Report) error {
	if _, err := a.Store.SaveRun(ctx, runRecord(a.Specs, rep)); err != nil {
		return err
	}
	return a.Store.Prune(ctx, a.Config.History.RetentionRuns)
}

// runRecord раскладывает результаты в порядке конфигурации.
func runRecord(specs []core.PluginSpec, rep Report) storage.RunRecord {
	byName := make(map[string]core.Outcome, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		byName[o.Plugin] = o
	}
	run := storage.RunRecord{
		TS:       rep.TS,
		Report:   rep.Text(),
		Plugins:  len(specs),
		Failures: rep.Failures(),
		Outcomes: make([]storage.OutcomeRecord, 0, len(specs)),
	}
	for _, spec := range specs {
		o, ok := byName[spec.DisplayName]
		if !ok {
			continue
		}
		rec := storage.OutcomeRecord{Plugin: o.Plugin, Status: storage.StatusOK}
		if o.OK() {
			rec.Stdout = o.Output.Stdout
			rec.Stderr = o.Output.Stderr
		} else {
			rec.Status = storage.StatusError
			rec.ErrorKind = string(o.Err.Kind)
			rec.Error = o.Err.Error()
		}
		run.Outcomes = append(run.Outcomes, rec)
	}
	return run
}

// Serve периодически обновляет отчет и отдает его по HTTP до отмены контекста.
func (a *App) Serve(ctx context.Context) error {
	adapter := web.NewAdapter(a, a.Store, web.Config{
		ListenAddr:      a.Config.Web.ListenAddr,
		ReadTimeout:     time.Duration(a.Config.Web.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:    time.Duration(a.Config.Web.WriteTimeoutMS) * time.Millisecond,
		ShutdownTimeout: time.Duration(a.Config.Web.ShutdownTimeoutS) * time.Second,
	}, a.logger)
	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("start web transport: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adapter.Stop(stopCtx); err != nil {
			a.logger.Warn("stop web transport", "err", err)
		}
	}()

	interval := time.Duration(a.Config.Scheduler.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	sched := core.NewScheduler(interval, a.logger)
	sched.Add(a.refresh)
	sched.Start(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

var errRefreshInProgress = errors.New("previous refresh still running")

// refresh пропускает тик, пока предыдущий прогон не завершился.
func (a *App) refresh(ctx context.Context) error {
	if !a.refreshing.CompareAndSwap(false, true) {
		return errRefreshInProgress
	}
	defer a.refreshing.Store(false)
	rep := a.RunOnce(ctx)
	a.logger.Info("report refreshed", "plugins", len(rep.Outcomes), "failures", rep.Failures())
	return nil
}
