package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bitbar-composite/internal/app"
	"bitbar-composite/internal/core"
)

func fakeLauncher() core.Launcher {
	return core.LauncherFunc(func(ctx context.Context, spec core.PluginSpec) (core.RawOutput, error) {
		return core.RawOutput{Stdout: []byte(strings.ToLower(strings.ReplaceAll(spec.DisplayName, " ", "-")))}, nil
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := New("1.2.3", app.WithLauncher(fakeLauncher()))
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

const twoPlugins = `
plugins:
  - display_name: Plugin 1
    command: bash
  - display_name: Plugin 2
    command: bash
    show_in_sub_menu: true
`

func TestRootPrintsReport(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, twoPlugins))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "Bit | color=orange\n---\nPlugin 1 | color=green\n---\nplugin-1\n---\nPlugin 2 | color=green\n--plugin-2\n"
	if out != want {
		t.Fatalf("unexpected output:\n%q\nwant:\n%q", out, want)
	}
}

func TestRootFailsOnMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected config error")
	}
}

func TestRootFailsOnDuplicateNames(t *testing.T) {
	cfg := "plugins:\n  - {display_name: A, command: a}\n  - {display_name: A, command: b}\n"
	if _, err := execute(t, "--config", writeConfig(t, cfg)); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || out != "1.2.3\n" {
		t.Fatalf("unexpected version output %q, err %v", out, err)
	}
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t, twoPlugins))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok, 2 plugins") || !strings.Contains(out, "Plugin 2: bash [submenu]") {
		t.Fatalf("unexpected validate output: %q", out)
	}
}

func TestPreviewIsPlainWithoutTerminal(t *testing.T) {
	out, err := execute(t, "preview", "--config", writeConfig(t, twoPlugins))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if strings.Contains(out, "color=") || !strings.Contains(out, "  plugin-2") {
		t.Fatalf("unexpected preview: %q", out)
	}
}

func TestHistoryDisabled(t *testing.T) {
	_, err := execute(t, "history", "--config", writeConfig(t, twoPlugins))
	if err != errHistoryDisabled {
		t.Fatalf("expected errHistoryDisabled, got %v", err)
	}
}

func TestHistoryRecordsRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	path := writeConfig(t, twoPlugins+"history:\n  enabled: true\n  path: "+db+"\n")

	for i := 0; i < 2; i++ {
		if _, err := execute(t, "--config", path); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	out, err := execute(t, "history", "--config", path)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("unexpected history: %q", out)
	}

	out, err = execute(t, "history", "--latest", "--config", path)
	if err != nil {
		t.Fatalf("history --latest: %v", err)
	}
	if !strings.HasPrefix(out, "Bit | color=orange\n") {
		t.Fatalf("unexpected latest report: %q", out)
	}
}
