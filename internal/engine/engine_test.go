package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/hyperjs/internal/core"
)

func testRuntime(t *testing.T) core.JSRuntime {
	t.Helper()
	rt, err := New(core.EngineConfig{MemoryLimitMB: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestRuntime_EvalHelpers(t *testing.T) {
	rt := testRuntime(t)

	if err := rt.Eval("globalThis.x = 40 + 2;"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	s, err := rt.EvalString("'a' + 'b'")
	if err != nil || s != "ab" {
		t.Errorf("EvalString = (%q, %v), want ab", s, err)
	}
	b, err := rt.EvalBool("x === 42")
	if err != nil || !b {
		t.Errorf("EvalBool = (%v, %v), want true", b, err)
	}
}

func TestRuntime_EvalSyntaxError(t *testing.T) {
	rt := testRuntime(t)
	if err := rt.Eval("function ("); err == nil {
		t.Fatal("expected syntax error")
	}
	// The runtime stays usable.
	if s, err := rt.EvalString("String(1 + 1)"); err != nil || s != "2" {
		t.Errorf("EvalString after error = (%q, %v)", s, err)
	}
}

func TestRuntime_RegisterFunc(t *testing.T) {
	rt := testRuntime(t)

	if err := rt.RegisterFunc("add", func(a, b int) int { return a + b }); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	if ok, err := rt.EvalBool("add(2, 3) === 5"); err != nil || !ok {
		t.Errorf("add(2, 3) === 5 = (%v, %v)", ok, err)
	}

	if err := rt.RegisterFunc("fail", func(s string) (string, error) {
		return "", errors.New("nope " + s)
	}); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	msg, err := rt.EvalString(`(function() { try { fail("x"); return "no throw"; } catch (e) { return String(e.message || e); } })()`)
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if !strings.Contains(msg, "nope x") {
		t.Errorf("error message = %q, want it to contain %q", msg, "nope x")
	}
}

func TestRuntime_SetGlobal(t *testing.T) {
	rt := testRuntime(t)

	if err := rt.SetGlobal("name", "hyperjs"); err != nil {
		t.Fatalf("SetGlobal string: %v", err)
	}
	if err := rt.SetGlobal("obj", map[string]any{"a": []int{1, 2}}); err != nil {
		t.Fatalf("SetGlobal map: %v", err)
	}
	s, err := rt.EvalString("name + ':' + obj.a.length")
	if err != nil || s != "hyperjs:2" {
		t.Errorf("got (%q, %v), want hyperjs:2", s, err)
	}

	// Text outside the BMP survives the trip into the engine.
	if err := rt.SetGlobal("wide", map[string]string{"v": "a\U000E0041b\U0001F600"}); err != nil {
		t.Fatalf("SetGlobal wide: %v", err)
	}
	if ok, err := rt.EvalBool("wide.v === 'a\\u{E0041}b\\u{1F600}'"); err != nil || !ok {
		t.Errorf("wide.v mangled: (%v, %v)", ok, err)
	}
}

func TestRuntime_RunMicrotasks(t *testing.T) {
	rt := testRuntime(t)

	if err := rt.Eval("globalThis.done = false; Promise.resolve().then(function() { globalThis.done = true; });"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	rt.RunMicrotasks()
	ok, err := rt.EvalBool("done")
	if err != nil || !ok {
		t.Errorf("promise reaction did not run: (%v, %v)", ok, err)
	}
}

func TestName(t *testing.T) {
	if Name != "quickjs" && Name != "v8" {
		t.Errorf("Name = %q", Name)
	}
}
