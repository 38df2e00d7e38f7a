package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BuiltinPrefix помечает команды встроенных модулей, например "@host".
const BuiltinPrefix = "@"

var (
	errModuleExists     = errors.New("module already registered")
	errUnknownModule    = errors.New("unknown builtin module")
	errInvalidArguments = errors.New("invalid arguments")
)

// Registry хранит встроенные модули и маршрутизирует запуск плагинов.
type Registry struct {
	modules  map[string]Module
	fallback Launcher
}

// NewRegistry создает реестр; команды без префикса уходят в fallback.
func NewRegistry(fallback Launcher) *Registry {
	return &Registry{modules: make(map[string]Module), fallback: fallback}
}

// Register добавляет модуль; имя должно быть уникальным.
func (r *Registry) Register(ctx context.Context, m Module) error {
	if m == nil {
		return fmt.Errorf("module is nil: %w", errInvalidArguments)
	}
	name := m.Name()
	if name == "" {
		return fmt.Errorf("module name is empty: %w", errInvalidArguments)
	}
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("%s: %w", name, errModuleExists)
	}
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("init %s: %w", name, err)
	}
	r.modules[name] = m
	return nil
}

// Launch вызывает встроенный модуль для "@name" или передает spec в fallback.
func (r *Registry) Launch(ctx context.Context, spec PluginSpec) (RawOutput, error) {
	name, ok := strings.CutPrefix(spec.Command, BuiltinPrefix)
	if !ok {
		if r.fallback == nil {
			return RawOutput{}, fmt.Errorf("%s: no launcher configured: %w", spec.Command, errInvalidArguments)
		}
		return r.fallback.Launch(ctx, spec)
	}
	m, ok := r.modules[name]
	if !ok {
		return RawOutput{}, fmt.Errorf("%s: %w", name, errUnknownModule)
	}
	return m.Run(ctx, spec.Args)
}

// Modules возвращает отсортированный список зарегистрированных модулей.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
