package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"
)

type fakeLauncher struct {
	outputs map[string]RawOutput
	errs    map[string]error
	calls   int32
}

func (f *fakeLauncher) Launch(ctx context.Context, spec PluginSpec) (RawOutput, error) {
	atomic.AddInt32(&f.calls, 1)
	if err, ok := f.errs[spec.DisplayName]; ok {
		return RawOutput{}, err
	}
	return f.outputs[spec.DisplayName], nil
}

func findOutcome(t *testing.T, outcomes []Outcome, plugin string) Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Plugin == plugin {
			return o
		}
	}
	t.Fatalf("no outcome for %q", plugin)
	return Outcome{}
}

func shSpec(name, script string) PluginSpec {
	return PluginSpec{DisplayName: name, Command: "sh", Args: []string{"-c", script}}
}

func TestExecuteReturnsOutputOfAllPlugins(t *testing.T) {
	e := NewExecutor(&ExecLauncher{}, nil)
	specs := []PluginSpec{
		shSpec("Plugin 1", "printf 'plugin-1'"),
		shSpec("Plugin 2", "printf 'plugin-2'; printf 'warn' >&2"),
	}

	outcomes := e.Execute(context.Background(), specs)
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	first := findOutcome(t, outcomes, "Plugin 1")
	if !first.OK() || first.Output != (ExecutionOutput{Stdout: "plugin-1"}) {
		t.Fatalf("unexpected first outcome: %#v", first)
	}
	second := findOutcome(t, outcomes, "Plugin 2")
	if !second.OK() || second.Output != (ExecutionOutput{Stdout: "plugin-2", Stderr: "warn"}) {
		t.Fatalf("unexpected second outcome: %#v", second)
	}
}

func TestExecuteIsolatesLaunchFailure(t *testing.T) {
	e := NewExecutor(&ExecLauncher{}, nil)
	specs := []PluginSpec{
		shSpec("Plugin 1", "printf 'plugin-1'"),
		{DisplayName: "Plugin 2", Command: "some-random-command-that-does-not-exist"},
		shSpec("Plugin 3", "printf 'plugin-3'"),
	}

	outcomes := e.Execute(context.Background(), specs)
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	failed := findOutcome(t, outcomes, "Plugin 2")
	if failed.OK() {
		t.Fatalf("expected failure for missing command")
	}
	if failed.Err.Kind != KindLaunch {
		t.Fatalf("expected launch error, got %s", failed.Err.Kind)
	}
	for _, name := range []string{"Plugin 1", "Plugin 3"} {
		o := findOutcome(t, outcomes, name)
		if !o.OK() {
			t.Fatalf("%s should not be affected: %v", name, o.Err)
		}
	}
	if got := findOutcome(t, outcomes, "Plugin 3").Output.Stdout; got != "plugin-3" {
		t.Fatalf("unexpected stdout: %q", got)
	}
}

func TestExecuteNonZeroExitIsSuccess(t *testing.T) {
	e := NewExecutor(&ExecLauncher{}, nil)
	outcomes := e.Execute(context.Background(), []PluginSpec{
		shSpec("Failing", "printf 'partial'; printf 'boom' >&2; exit 3"),
	})
	o := findOutcome(t, outcomes, "Failing")
	if !o.OK() {
		t.Fatalf("non-zero exit must not be a failure: %v", o.Err)
	}
	if o.Output.Stdout != "partial" || o.Output.Stderr != "boom" {
		t.Fatalf("unexpected output: %#v", o.Output)
	}
}

func TestExecuteInvalidTextIsDecodeFailure(t *testing.T) {
	l := &fakeLauncher{outputs: map[string]RawOutput{
		"bad-stdout": {Stdout: []byte{0xff, 0xfe}},
		"bad-stderr": {Stdout: []byte("ok"), Stderr: []byte{0xc3, 0x28}},
		"good":       {Stdout: []byte("ok")},
	}}
	e := NewExecutor(l, nil)
	outcomes := e.Execute(context.Background(), []PluginSpec{
		{DisplayName: "bad-stdout"}, {DisplayName: "bad-stderr"}, {DisplayName: "good"},
	})
	for _, name := range []string{"bad-stdout", "bad-stderr"} {
		o := findOutcome(t, outcomes, name)
		if o.OK() || o.Err.Kind != KindDecode {
			t.Fatalf("%s: expected decode failure, got %#v", name, o)
		}
		if !errors.Is(o.Err, errInvalidText) {
			t.Fatalf("%s: expected errInvalidText, got %v", name, o.Err)
		}
	}
	if o := findOutcome(t, outcomes, "good"); !o.OK() {
		t.Fatalf("good plugin affected: %v", o.Err)
	}
}

func TestExecuteTimeoutIsScopedToPlugin(t *testing.T) {
	e := NewExecutor(TimeoutLauncher{Next: &ExecLauncher{}}, nil)
	slow := shSpec("Slow", "exec sleep 5")
	slow.Timeout = 50 * time.Millisecond

	start := time.Now()
	outcomes := e.Execute(context.Background(), []PluginSpec{slow, shSpec("Fast", "printf fast")})
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("timeout not applied, took %s", elapsed)
	}
	o := findOutcome(t, outcomes, "Slow")
	if o.OK() || o.Err.Kind != KindTimeout {
		t.Fatalf("expected timeout failure, got %#v", o)
	}
	if fast := findOutcome(t, outcomes, "Fast"); !fast.OK() || fast.Output.Stdout != "fast" {
		t.Fatalf("fast plugin affected: %#v", fast)
	}
}

func TestExecuteRecoversLauncherPanic(t *testing.T) {
	l := LauncherFunc(func(ctx context.Context, spec PluginSpec) (RawOutput, error) {
		if spec.DisplayName == "panics" {
			panic("boom")
		}
		return RawOutput{Stdout: []byte(spec.DisplayName)}, nil
	})
	outcomes := NewExecutor(l, nil).Execute(context.Background(), []PluginSpec{
		{DisplayName: "panics"}, {DisplayName: "fine"},
	})
	if o := findOutcome(t, outcomes, "panics"); o.OK() || o.Err.Kind != KindInternal {
		t.Fatalf("expected internal failure, got %#v", o)
	}
	if o := findOutcome(t, outcomes, "fine"); !o.OK() {
		t.Fatalf("fine plugin affected: %v", o.Err)
	}
}

func TestExecuteRunsPluginsConcurrently(t *testing.T) {
	const n = 8
	var running, peak int32
	release := make(chan struct{})
	l := LauncherFunc(func(ctx context.Context, spec PluginSpec) (RawOutput, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		if cur == n {
			close(release)
		}
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		atomic.AddInt32(&running, -1)
		return RawOutput{}, nil
	})
	specs := make([]PluginSpec, n)
	for i := range specs {
		specs[i] = PluginSpec{DisplayName: fmt.Sprintf("p%d", i)}
	}
	NewExecutor(l, nil).Execute(context.Background(), specs)
	if p := atomic.LoadInt32(&peak); p != n {
		t.Fatalf("expected all %d plugins in flight at once, peak was %d", n, p)
	}
}

func TestExecuteCardinalityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		l := &fakeLauncher{outputs: map[string]RawOutput{}, errs: map[string]error{}}
		specs := make([]PluginSpec, n)
		for i := range specs {
			name := fmt.Sprintf("plugin-%d", i)
			specs[i] = PluginSpec{DisplayName: name}
			if rapid.Bool().Draw(t, "fails") {
				l.errs[name] = errors.New("launch failed")
			} else {
				l.outputs[name] = RawOutput{Stdout: []byte(name)}
			}
		}

		outcomes := NewExecutor(l, nil).Execute(context.Background(), specs)
		if len(outcomes) != n {
			t.Fatalf("expected %d outcomes, got %d", n, len(outcomes))
		}
		if int(atomic.LoadInt32(&l.calls)) != n {
			t.Fatalf("expected %d launches, got %d", n, l.calls)
		}
		seen := make(map[string]int, n)
		for _, o := range outcomes {
			seen[o.Plugin]++
			_, shouldFail := l.errs[o.Plugin]
			if shouldFail == o.OK() {
				t.Fatalf("%s: unexpected outcome %#v", o.Plugin, o)
			}
		}
		for _, spec := range specs {
			if seen[spec.DisplayName] != 1 {
				t.Fatalf("%s seen %d times", spec.DisplayName, seen[spec.DisplayName])
			}
		}
	})
}
