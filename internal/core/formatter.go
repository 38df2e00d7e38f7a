package core

import (
	"fmt"
	"strings"
)

// Разметка, которую понимает хост меню (BitBar/xbar/SwiftBar).
const (
	HeaderLine     = "Bit | color=orange"
	Separator      = "---"
	SubmenuPrefix  = "--"
	pluginTitleFmt = "%s | color=green"
	errorLineFmt   = "Error: %s | color=red"
)

// Format рендерит блоки отчета в порядке specs независимо от порядка outcomes.
// Первый элемент - заголовок. Отсутствие результата для spec - нарушение контракта Executor.
func Format(specs []PluginSpec, outcomes []Outcome) []string {
	byName := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		if _, exists := byName[o.Plugin]; !exists {
			byName[o.Plugin] = o
		}
	}

	blocks := make([]string, 0, len(specs)+1)
	blocks = append(blocks, HeaderLine)
	for _, spec := range specs {
		o, ok := byName[spec.DisplayName]
		if !ok {
			panic(fmt.Sprintf("no outcome for plugin %q", spec.DisplayName))
		}
		blocks = append(blocks, formatBlock(spec, o))
	}
	return blocks
}

// Join склеивает блоки в итоговый текст.
func Join(blocks []string) string {
	return strings.Join(blocks, "\n")
}

func formatBlock(spec PluginSpec, o Outcome) string {
	lines := []string{Separator, fmt.Sprintf(pluginTitleFmt, spec.DisplayName)}
	if !o.OK() {
		if !spec.ShowInSubmenu {
			lines = append(lines, Separator)
		}
		lines = append(lines, fmt.Sprintf(errorLineFmt, o.Err.Error()))
		return strings.Join(lines, "\n")
	}
	if !spec.ShowInSubmenu {
		lines = append(lines, Separator, o.Output.Stdout+o.Output.Stderr)
		return strings.Join(lines, "\n")
	}
	lines = append(lines, submenuLines(o.Output.Stdout)...)
	lines = append(lines, submenuLines(o.Output.Stderr)...)
	return strings.Join(lines, "\n")
}

func submenuLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line == "" {
			continue
		}
		out = append(out, SubmenuPrefix+line)
	}
	return out
}
