// Package preview рендерит разметку отчета для терминала.
package preview

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"bitbar-composite/internal/core"
)

var namedColors = map[string]string{
	"black":   "0",
	"red":     "1",
	"green":   "2",
	"yellow":  "3",
	"blue":    "4",
	"magenta": "5",
	"cyan":    "6",
	"white":   "7",
	"gray":    "8",
	"grey":    "8",
	"orange":  "208",
}

// Line - одна разобранная строка разметки.
type Line struct {
	Depth int
	Text  string
	Rule  bool
	Color string
}

// Parse разбивает отчет на строки, вычисляя глубину подменю и параметр color.
func Parse(text string) []Line {
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))
	for _, s := range raw {
		lines = append(lines, parseLine(s))
	}
	return lines
}

func parseLine(s string) Line {
	var l Line
	for strings.HasPrefix(s, core.SubmenuPrefix) && s != core.Separator {
		s = strings.TrimPrefix(s, core.SubmenuPrefix)
		l.Depth++
	}
	if s == core.Separator {
		l.Rule = true
		return l
	}
	if i := strings.Index(s, "|"); i >= 0 {
		for _, param := range strings.Fields(s[i+1:]) {
			if k, v, ok := strings.Cut(param, "="); ok && k == "color" {
				l.Color = strings.Trim(v, "|")
			}
		}
		s = strings.TrimRight(s[:i], " ")
	}
	l.Text = s
	return l
}

// Renderer раскрашивает строки через lipgloss под конкретный вывод.
type Renderer struct {
	r     *lipgloss.Renderer
	width int
}

// New создает renderer; если w не терминал, цвета отбрасываются.
func New(w io.Writer) *Renderer {
	return &Renderer{r: lipgloss.NewRenderer(w), width: 32}
}

// Render превращает разметку отчета в текст для терминала.
func (p *Renderer) Render(text string) string {
	rule := p.r.NewStyle().Faint(true).Render(strings.Repeat("─", p.width))
	var b strings.Builder
	for i, l := range Parse(text) {
		if i > 0 {
			b.WriteByte('\n')
		}
		indent := strings.Repeat("  ", l.Depth)
		if l.Rule {
			b.WriteString(indent + rule)
			continue
		}
		style := p.r.NewStyle()
		if c := colorFor(l.Color); c != "" {
			style = style.Foreground(lipgloss.Color(c))
		}
		if i == 0 {
			style = style.Bold(true)
		}
		b.WriteString(indent + style.Render(l.Text))
	}
	return b.String()
}

func colorFor(name string) string {
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "#") {
		return name
	}
	return namedColors[strings.ToLower(name)]
}
