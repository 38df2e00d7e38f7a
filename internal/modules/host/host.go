package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"bitbar-composite/internal/core"
)

// Sections - допустимые аргументы встроенного плагина @host.
var Sections = []string{"host", "uptime", "load", "mem"}

// Module выводит базовые метрики узла как строки текста.
type Module struct{}

func (m *Module) Name() string { return "host" }

func (m *Module) Init(ctx context.Context) error { //nolint:revive // инициализация пока тривиальна
	return nil
}

// Run печатает запрошенные секции; без аргументов печатает все.
func (m *Module) Run(ctx context.Context, args []string) (core.RawOutput, error) {
	sections := args
	if len(sections) == 0 {
		sections = Sections
	}
	var b strings.Builder
	for _, s := range sections {
		line, err := m.section(ctx, s)
		if err != nil {
			return core.RawOutput{}, err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return core.RawOutput{Stdout: []byte(b.String())}, nil
}

func (m *Module) section(ctx context.Context, name string) (string, error) {
	switch name {
	case "host":
		info, err := host.InfoWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("host info: %w", err)
		}
		return fmt.Sprintf("Host: %s (%s %s)", info.Hostname, info.Platform, info.PlatformVersion), nil
	case "uptime":
		up, err := host.UptimeWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("uptime: %w", err)
		}
		return "Uptime: " + formatUptime(time.Duration(up)*time.Second), nil
	case "load":
		ld, err := load.AvgWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("load info: %w", err)
		}
		return fmt.Sprintf("Load: %.2f %.2f %.2f", ld.Load1, ld.Load5, ld.Load15), nil
	case "mem":
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return "", fmt.Errorf("memory info: %w", err)
		}
		return fmt.Sprintf("Memory: %.1f%% of %s", vm.UsedPercent, formatBytes(vm.Total)), nil
	default:
		return "", fmt.Errorf("section %s not supported", name)
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
