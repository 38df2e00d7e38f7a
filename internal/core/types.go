package core

import (
	"context"
	"fmt"
	"time"
)

// PluginSpec описывает один плагин из конфигурации. После загрузки не меняется.
type PluginSpec struct {
	DisplayName   string
	Command       string
	Args          []string
	ShowInSubmenu bool
	// Timeout ограничивает время работы процесса; ноль означает "без ограничения".
	Timeout time.Duration
}

// RawOutput содержит сырые байты потоков процесса.
type RawOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExecutionOutput содержит захваченный вывод в виде валидного текста.
type ExecutionOutput struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ErrorKind классифицирует ошибку выполнения плагина.
type ErrorKind string

const (
	KindLaunch   ErrorKind = "launch"
	KindDecode   ErrorKind = "decode"
	KindTimeout  ErrorKind = "timeout"
	KindInternal ErrorKind = "internal"
)

// ExecutionError описывает сбой одного плагина.
type ExecutionError struct {
	Kind   ErrorKind
	Plugin string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Outcome - результат одного запуска: либо вывод, либо ошибка.
type Outcome struct {
	Plugin string
	Output ExecutionOutput
	Err    *ExecutionError
}

// OK сообщает, завершился ли запуск без ошибки.
func (o Outcome) OK() bool { return o.Err == nil }

// Success строит успешный результат.
func Success(plugin, stdout, stderr string) Outcome {
	return Outcome{Plugin: plugin, Output: ExecutionOutput{Stdout: stdout, Stderr: stderr}}
}

// Failure строит результат с ошибкой заданного вида.
func Failure(plugin string, kind ErrorKind, err error) Outcome {
	return Outcome{Plugin: plugin, Err: &ExecutionError{Kind: kind, Plugin: plugin, Err: err}}
}

// Launcher запускает плагин и возвращает сырой вывод.
type Launcher interface {
	Launch(ctx context.Context, spec PluginSpec) (RawOutput, error)
}

// LauncherFunc позволяет использовать функцию как Launcher.
type LauncherFunc func(ctx context.Context, spec PluginSpec) (RawOutput, error)

func (f LauncherFunc) Launch(ctx context.Context, spec PluginSpec) (RawOutput, error) {
	return f(ctx, spec)
}

// Module - встроенный плагин, исполняемый внутри процесса.
type Module interface {
	Name() string
	Init(ctx context.Context) error
	Run(ctx context.Context, args []string) (RawOutput, error)
}
