package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// waitDelay ограничивает ожидание закрытия потоков после истечения таймаута плагина.
const waitDelay = time.Second

// ExecLauncher запускает плагин как внешний процесс.
type ExecLauncher struct {
	// Dir задает рабочий каталог процесса; пустое значение - текущий каталог.
	Dir string
	// Env заменяет окружение процесса, если не nil.
	Env []string
}

// Launch дожидается завершения процесса и возвращает stdout/stderr целиком.
// Ненулевой код выхода ошибкой не считается.
func (l *ExecLauncher) Launch(ctx context.Context, spec PluginSpec) (RawOutput, error) {
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...) // #nosec G204 -- команды задает владелец конфига.
	cmd.Dir = l.Dir
	if l.Env != nil {
		cmd.Env = l.Env
	}
	if _, ok := ctx.Deadline(); ok {
		cmd.WaitDelay = waitDelay
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := RawOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("run %s: %w", spec.Command, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, fmt.Errorf("run %s: %w", spec.Command, err)
}

// TimeoutLauncher ограничивает время запуска для плагинов с заданным Timeout.
type TimeoutLauncher struct {
	Next Launcher
}

func (l TimeoutLauncher) Launch(ctx context.Context, spec PluginSpec) (RawOutput, error) {
	if spec.Timeout <= 0 {
		return l.Next.Launch(ctx, spec)
	}
	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()
	return l.Next.Launch(runCtx, spec)
}
