package toolcall

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParse_DecodesBackslashOnce(t *testing.T) {
	a, ok := Parse(`TOOL_ACTION("LIST_DIR", "C:\\temp")`)
	if !ok {
		t.Fatalf("expected a tool action")
	}
	if a.Name != "LIST_DIR" {
		t.Fatalf("expected LIST_DIR, got %q", a.Name)
	}
	if !reflect.DeepEqual(a.Args, []string{`C:\temp`}) {
		t.Fatalf("expected [C:\\temp], got %#v", a.Args)
	}
}

func TestParse_NoToolCall(t *testing.T) {
	for _, line := range []string{
		"no tool call here",
		"TOOL_ACTION()",
		"TOOL_ACTION(LIST_DIR, path)",
		"",
	} {
		if a, ok := Parse(line); ok {
			t.Fatalf("%q: expected no action, got %#v", line, a)
		}
	}
}

func TestParse_Variants(t *testing.T) {
	t.Run("name only", func(t *testing.T) {
		a, ok := Parse(`TOOL_ACTION("ANALYZE_PROJECT")`)
		if !ok || a.Name != "ANALYZE_PROJECT" || len(a.Args) != 0 || a.Args == nil {
			t.Fatalf("unexpected parse: %#v ok=%v", a, ok)
		}
	})

	t.Run("embedded in prose", func(t *testing.T) {
		a, ok := Parse(`  Sure, running TOOL_ACTION("READ_FILE", "notes.txt") now.  `)
		if !ok || a.Name != "READ_FILE" || !reflect.DeepEqual(a.Args, []string{"notes.txt"}) {
			t.Fatalf("unexpected parse: %#v ok=%v", a, ok)
		}
	})

	t.Run("escapes and parentheses in content", func(t *testing.T) {
		line := `TOOL_ACTION("WRITE_CODE", "app.py", "print(\"hi\")\n\tx = 1\\n")`
		a, ok := Parse(line)
		if !ok {
			t.Fatalf("expected a tool action")
		}
		want := []string{"app.py", "print(\"hi\")\n\tx = 1\\n"}
		if !reflect.DeepEqual(a.Args, want) {
			t.Fatalf("expected %#v, got %#v", want, a.Args)
		}
	})
}

func TestParse_StopsAtClosingParen(t *testing.T) {
	a, ok := Parse(`TOOL_ACTION("READ_FILE", "a.txt") then I will summarize "a.txt" (briefly)`)
	if !ok || a.Name != "READ_FILE" || !reflect.DeepEqual(a.Args, []string{"a.txt"}) {
		t.Fatalf("unexpected parse: %#v ok=%v", a, ok)
	}

	a, ok = Parse(`TOOL_ACTION("READ_FILE", "a.txt") TOOL_ACTION("LIST_DIR", ".")`)
	if !ok || a.Name != "READ_FILE" || !reflect.DeepEqual(a.Args, []string{"a.txt"}) {
		t.Fatalf("unexpected parse: %#v ok=%v", a, ok)
	}

	a, ok = Parse(`TOOL_ACTION("EXECUTE_COMMAND", "ls") then "rm" (x)`)
	if !ok || !reflect.DeepEqual(a.Args, []string{"ls"}) {
		t.Fatalf("trailing quoted text leaked into args: %#v", a)
	}
}

func TestParse_SkipsMalformedCall(t *testing.T) {
	a, ok := Parse(`TOOL_ACTION(oops) and TOOL_ACTION("LIST_DIR", "src")`)
	if !ok || a.Name != "LIST_DIR" || !reflect.DeepEqual(a.Args, []string{"src"}) {
		t.Fatalf("unexpected parse: %#v ok=%v", a, ok)
	}
	for _, line := range []string{`TOOL_ACTION("READ_FILE", "a.txt"`, `TOOL_ACTION("READ_FILE", "a.txt)`} {
		if a, ok := Parse(line); ok {
			t.Fatalf("%q: expected no action, got %#v", line, a)
		}
	}
}

func TestUnescape(t *testing.T) {
	cases := map[string]string{
		`plain`:       "plain",
		`a\nb`:        "a\nb",
		`a\tb`:        "a\tb",
		`say \"x\"`:   `say "x"`,
		`C:\\new`:     `C:\new`,
		`keep \r \u1`: `keep \r \u1`,
		`trailing\`:   `trailing\`,
	}
	for in, want := range cases {
		if got := Unescape(in); got != want {
			t.Fatalf("Unescape(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseAll(t *testing.T) {
	text := "Let me look.\nTOOL_ACTION(\"LIST_DIR\", \".\")\nthen\nTOOL_ACTION(\"READ_FILE\", \"a.txt\") TOOL_ACTION(\"READ_FILE\", \"b.txt\")"
	got := ParseAll(text)
	if len(got) != 3 || got[0].Name != "LIST_DIR" || got[1].Args[0] != "a.txt" || got[2].Args[0] != "b.txt" {
		t.Fatalf("unexpected actions: %#v", got)
	}
}

func TestFormatResult(t *testing.T) {
	got := FormatResult("READ_FILE", "line1\nline2")
	if got != "TOOL_RESULT(\"READ_FILE\", \"\"\"line1\nline2\"\"\")" {
		t.Fatalf("unexpected result: %q", got)
	}
}

type countingTool struct {
	spec  Spec
	calls int
	args  []string
	out   string
	err   error
}

func (c *countingTool) Spec() Spec { return c.spec }

func (c *countingTool) Invoke(_ context.Context, args []string) (string, error) {
	c.calls++
	c.args = args
	return c.out, c.err
}

func TestRegistry_RegisterValidates(t *testing.T) {
	r := NewRegistry(ModeReal)

	if err := r.Register(&countingTool{spec: Spec{Name: "list_dir"}}); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected ErrInvalidTool for lower-case name, got %v", err)
	}
	if err := r.Register(&countingTool{spec: Spec{Name: "X", MinArgs: 2, MaxArgs: 1}}); !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected ErrInvalidTool for bad arity, got %v", err)
	}
	if err := r.Register(&countingTool{spec: Spec{Name: "LIST_DIR", MinArgs: 1, MaxArgs: 1}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&countingTool{spec: Spec{Name: "LIST_DIR", MinArgs: 1, MaxArgs: 1}}); !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestRegistry_UnknownToolInvokesNothing(t *testing.T) {
	r := NewRegistry(ModeReal)
	known := &countingTool{spec: Spec{Name: "LIST_DIR", MinArgs: 0, MaxArgs: Unbounded}}
	if err := r.Register(known); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Dispatch(context.Background(), Action{Name: "FORMAT_DISK", Args: []string{"C:"}})
	if res.Code != CodeUnknownTool || !errors.Is(res.Err, ErrUnknownTool) {
		t.Fatalf("expected unknown tool result, got %#v", res)
	}
	if !strings.Contains(res.Output, "unknown command") {
		t.Fatalf("expected unknown command output, got %q", res.Output)
	}
	if known.calls != 0 {
		t.Fatalf("expected no tool invocation, got %d", known.calls)
	}
}

func TestRegistry_DispatchOutcomes(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		r := NewRegistry(ModeReal)
		tool := &countingTool{spec: Spec{Name: "READ_FILE", MinArgs: 1, MaxArgs: 1}, out: "content"}
		_ = r.Register(tool)
		res := r.Dispatch(ctx, Action{Name: "READ_FILE", Args: []string{"a.txt"}})
		if !res.OK() || res.Output != "content" || tool.calls != 1 || tool.args[0] != "a.txt" {
			t.Fatalf("unexpected result %#v (calls=%d)", res, tool.calls)
		}
	})

	t.Run("bad args", func(t *testing.T) {
		r := NewRegistry(ModeReal)
		tool := &countingTool{spec: Spec{Name: "WRITE_CODE", MinArgs: 2, MaxArgs: 2, Usage: "WRITE_CODE(path, content)"}}
		_ = r.Register(tool)
		res := r.Dispatch(ctx, Action{Name: "WRITE_CODE", Args: []string{"only-path"}})
		if res.Code != CodeBadArgs || !errors.Is(res.Err, ErrBadArgs) || tool.calls != 0 {
			t.Fatalf("unexpected result %#v (calls=%d)", res, tool.calls)
		}
		if !strings.Contains(res.Output, "usage: WRITE_CODE(path, content)") {
			t.Fatalf("expected usage hint, got %q", res.Output)
		}
	})

	t.Run("failure becomes result", func(t *testing.T) {
		r := NewRegistry(ModeReal)
		boom := errors.New("disk on fire")
		_ = r.Register(&countingTool{spec: Spec{Name: "READ_FILE", MinArgs: 1, MaxArgs: 1}, err: boom})
		res := r.Dispatch(ctx, Action{Name: "READ_FILE", Args: []string{"a.txt"}})
		if res.Code != CodeFailed || !errors.Is(res.Err, boom) || !strings.Contains(res.Output, "disk on fire") {
			t.Fatalf("unexpected result %#v", res)
		}
	})

	t.Run("panic becomes result", func(t *testing.T) {
		r := NewRegistry(ModeReal)
		_ = r.Register(Func{
			S:  Spec{Name: "PANIC", MaxArgs: Unbounded},
			Fn: func(context.Context, []string) (string, error) { panic("nil map") },
		})
		res := r.Dispatch(ctx, Action{Name: "PANIC"})
		if res.Code != CodeFailed || !strings.Contains(res.Output, "nil map") {
			t.Fatalf("unexpected result %#v", res)
		}
	})
}

func TestRegistry_Modes(t *testing.T) {
	ctx := context.Background()
	safe := &countingTool{spec: Spec{Name: "LIST_DIR", MinArgs: 1, MaxArgs: 1, Safe: true}, out: "listing"}
	unsafe := &countingTool{spec: Spec{Name: "EXECUTE_COMMAND", MinArgs: 1, MaxArgs: 2}, out: "ran"}

	sim := NewRegistry(ModeSimulation)
	_ = sim.Register(safe)
	_ = sim.Register(unsafe)
	res := sim.Dispatch(ctx, Action{Name: "EXECUTE_COMMAND", Args: []string{"ls"}})
	if res.Code != CodeSimulated || !res.OK() || unsafe.calls != 0 {
		t.Fatalf("expected simulated result without invocation, got %#v", res)
	}

	guarded := NewRegistry(ModeSafe)
	_ = guarded.Register(safe)
	_ = guarded.Register(unsafe)
	res = guarded.Dispatch(ctx, Action{Name: "EXECUTE_COMMAND", Args: []string{"ls"}})
	if res.Code != CodeBlocked || !errors.Is(res.Err, ErrBlocked) || unsafe.calls != 0 {
		t.Fatalf("expected blocked result, got %#v", res)
	}
	res = guarded.Dispatch(ctx, Action{Name: "LIST_DIR", Args: []string{"."}})
	if res.Code != CodeOK || safe.calls != 1 {
		t.Fatalf("expected safe tool to run, got %#v", res)
	}
}

func TestRegistry_Describe(t *testing.T) {
	r := NewRegistry("")
	_ = r.Register(&countingTool{spec: Spec{Name: "READ_FILE", MinArgs: 1, MaxArgs: 1, Usage: "READ_FILE(path)"}})
	_ = r.Register(&countingTool{spec: Spec{Name: "ANALYZE_PROJECT"}})
	if r.Mode() != ModeReal {
		t.Fatalf("expected default mode REAL")
	}
	got := r.Describe()
	if got != "- ANALYZE_PROJECT\n- READ_FILE: READ_FILE(path)\n" {
		t.Fatalf("unexpected description: %q", got)
	}
}
