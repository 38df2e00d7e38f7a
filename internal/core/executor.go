package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

var errInvalidText = errors.New("output is not valid UTF-8")

// Executor параллельно запускает плагины и собирает их результаты.
type Executor struct {
	launcher Launcher
	logger   *slog.Logger
}

// NewExecutor создает executor поверх launcher. logger может быть nil.
func NewExecutor(launcher Launcher, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{launcher: launcher, logger: logger.With("component", "executor")}
}

// Execute запускает все плагины одновременно и ждет завершения каждого.
// Возвращает ровно один Outcome на каждый spec в порядке завершения.
func (e *Executor) Execute(ctx context.Context, specs []PluginSpec) []Outcome {
	results := make(chan Outcome, len(specs))
	var wg sync.WaitGroup
	for _, spec := range specs {
		spec := spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.executeOne(ctx, spec)
		}()
	}
	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(specs))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (e *Executor) executeOne(ctx context.Context, spec PluginSpec) (out Outcome) {
	lg := e.logger.With("plugin", spec.DisplayName)
	defer func() {
		if r := recover(); r != nil {
			lg.Error("plugin launcher panicked", "panic", r)
			out = Failure(spec.DisplayName, KindInternal, fmt.Errorf("launcher panic: %v", r))
		}
	}()

	start := time.Now()
	lg.Debug("plugin started", "command", spec.Command, "args", spec.Args)
	raw, err := e.launcher.Launch(ctx, spec)
	if err != nil {
		kind := KindLaunch
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		lg.Warn("plugin failed", "kind", kind, "err", err)
		return Failure(spec.DisplayName, kind, err)
	}
	if !utf8.Valid(raw.Stdout) {
		lg.Warn("plugin stdout is not valid text")
		return Failure(spec.DisplayName, KindDecode, fmt.Errorf("stdout: %w", errInvalidText))
	}
	if !utf8.Valid(raw.Stderr) {
		lg.Warn("plugin stderr is not valid text")
		return Failure(spec.DisplayName, KindDecode, fmt.Errorf("stderr: %w", errInvalidText))
	}
	lg.Debug("plugin finished", "exit_code", raw.ExitCode, "duration", time.Since(start))
	return Success(spec.DisplayName, string(raw.Stdout), string(raw.Stderr))
}
