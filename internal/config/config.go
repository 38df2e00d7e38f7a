package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"bitbar-composite/internal/core"
)

// FileName - имя файла конфигурации рядом с исполняемым файлом.
const FileName = ".bitbar-composite-plugin.yaml"

var (
	errEmptyFile       = errors.New("config file is empty")
	errNoPlugins       = errors.New("no plugins configured")
	errDuplicateName   = errors.New("duplicate plugin display name")
	errMissingField    = errors.New("missing required field")
	errNegativeTimeout = errors.New("timeout must not be negative")
)

// Plugin описывает плагин в YAML.
type Plugin struct {
	DisplayName   string
	Command       string
	Args          []string
	ShowInSubmenu bool
	TimeoutMS     int
}

// UnmarshalYAML принимает и snake_case, и camelCase варианты ключей.
func (p *Plugin) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		DisplayName      string   `yaml:"display_name"`
		DisplayNameCamel string   `yaml:"displayName"`
		Command          string   `yaml:"command"`
		Args             []string `yaml:"args"`
		ShowInSubMenu    *bool    `yaml:"show_in_sub_menu"`
		ShowInSubmenu    *bool    `yaml:"show_in_submenu"`
		ShowInSubMenuCC  *bool    `yaml:"showInSubMenu"`
		TimeoutMS        int      `yaml:"timeout_ms"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.DisplayName = raw.DisplayName
	if p.DisplayName == "" {
		p.DisplayName = raw.DisplayNameCamel
	}
	p.Command = raw.Command
	p.Args = raw.Args
	if p.Args == nil {
		p.Args = []string{}
	}
	for _, v := range []*bool{raw.ShowInSubMenu, raw.ShowInSubmenu, raw.ShowInSubMenuCC} {
		if v != nil {
			p.ShowInSubmenu = *v
			break
		}
	}
	p.TimeoutMS = raw.TimeoutMS
	return nil
}

// Spec переводит описание плагина в core.PluginSpec.
func (p Plugin) Spec() core.PluginSpec {
	return core.PluginSpec{
		DisplayName:   p.DisplayName,
		Command:       p.Command,
		Args:          append([]string{}, p.Args...),
		ShowInSubmenu: p.ShowInSubmenu,
		Timeout:       time.Duration(p.TimeoutMS) * time.Millisecond,
	}
}

// Config описывает параметры composite-плагина.
type Config struct {
	Plugins []Plugin `yaml:"plugins"`
	Agent   struct {
		LogLevel string `yaml:"log_level"`
	} `yaml:"agent"`
	History struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		RetentionRuns int    `yaml:"retention_runs"`
	} `yaml:"history"`
	Scheduler struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"scheduler"`
	Web struct {
		ListenAddr       string `yaml:"listen_addr"`
		ReadTimeoutMS    int    `yaml:"read_timeout_ms"`
		WriteTimeoutMS   int    `yaml:"write_timeout_ms"`
		ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`
	} `yaml:"web"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	var cfg Config
	cfg.Agent.LogLevel = "warn"
	cfg.History.Enabled = false
	cfg.History.Path = filepath.Join(os.TempDir(), "bitbar-composite.db")
	cfg.History.RetentionRuns = 100
	cfg.Scheduler.IntervalSeconds = 60
	cfg.Web.ListenAddr = "127.0.0.1:8089"
	cfg.Web.ReadTimeoutMS = 2000
	cfg.Web.WriteTimeoutMS = 5000
	cfg.Web.ShutdownTimeoutS = 5
	return cfg
}

// Load читает конфиг из файла YAML, поверх значений по умолчанию, и проверяет его.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) // #nosec G304 -- путь к конфигу задается владельцем плагина.
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errEmptyFile
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет список плагинов; имена должны быть уникальны.
func (c Config) Validate() error {
	if len(c.Plugins) == 0 {
		return errNoPlugins
	}
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.DisplayName == "" {
			return fmt.Errorf("plugins[%d].display_name: %w", i, errMissingField)
		}
		if p.Command == "" {
			return fmt.Errorf("plugins[%d].command: %w", i, errMissingField)
		}
		if p.TimeoutMS < 0 {
			return fmt.Errorf("plugins[%d].timeout_ms: %w", i, errNegativeTimeout)
		}
		if _, dup := seen[p.DisplayName]; dup {
			return fmt.Errorf("%q: %w", p.DisplayName, errDuplicateName)
		}
		seen[p.DisplayName] = struct{}{}
	}
	return nil
}

// Specs возвращает плагины в порядке конфигурации.
func (c Config) Specs() []core.PluginSpec {
	specs := make([]core.PluginSpec, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		specs = append(specs, p.Spec())
	}
	return specs
}

// DefaultPath возвращает путь к конфигу рядом с исполняемым файлом.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), FileName), nil
}
