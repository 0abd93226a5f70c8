package toolcall

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

type Mode string

const (
	ModeReal       Mode = "REAL"
	ModeSimulation Mode = "SIMULATION"
	ModeSafe       Mode = "SAFE"
)

type Code string

const (
	CodeOK          Code = "ok"
	CodeSimulated   Code = "simulated"
	CodeUnknownTool Code = "unknown_tool"
	CodeBadArgs     Code = "bad_args"
	CodeBlocked     Code = "blocked"
	CodeFailed      Code = "failed"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrBadArgs       = errors.New("bad tool arguments")
	ErrBlocked       = errors.New("tool blocked by execution mode")
	ErrInvalidTool   = errors.New("invalid tool spec")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Unbounded as Spec.MaxArgs accepts any number of trailing arguments.
const Unbounded = -1

var toolNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

type Spec struct {
	Name    string
	MinArgs int
	MaxArgs int
	// Safe tools only read state and stay enabled in SAFE mode.
	Safe  bool
	Usage string
}

type Tool interface {
	Spec() Spec
	Invoke(ctx context.Context, args []string) (string, error)
}

// Func adapts a plain function to Tool.
type Func struct {
	S  Spec
	Fn func(ctx context.Context, args []string) (string, error)
}

func (f Func) Spec() Spec { return f.S }

func (f Func) Invoke(ctx context.Context, args []string) (string, error) {
	return f.Fn(ctx, args)
}

type Result struct {
	Tool     string
	Args     []string
	Output   string
	Code     Code
	Err      error
	Duration time.Duration
}

func (r Result) OK() bool {
	return r.Code == CodeOK || r.Code == CodeSimulated
}

// Registry is the closed set of tools a model may call.
type Registry struct {
	mode Mode

	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(mode Mode) *Registry {
	if mode == "" {
		mode = ModeReal
	}
	return &Registry{mode: mode, tools: map[string]Tool{}}
}

func (r *Registry) Mode() Mode {
	return r.mode
}

func (r *Registry) Register(t Tool) error {
	s := t.Spec()
	if !toolNamePattern.MatchString(s.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidTool, s.Name)
	}
	if s.MinArgs < 0 || (s.MaxArgs != Unbounded && s.MaxArgs < s.MinArgs) {
		return fmt.Errorf("%w: %s arity %d..%d", ErrInvalidTool, s.Name, s.MinArgs, s.MaxArgs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, s.Name)
	}
	r.tools[s.Name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the named tool. Every failure is reported in the Result.
func (r *Registry) Dispatch(ctx context.Context, a Action) (res Result) {
	start := time.Now()
	res = Result{Tool: a.Name, Args: a.Args}
	defer func() {
		res.Duration = time.Since(start)
	}()

	t, ok := r.Lookup(a.Name)
	if !ok {
		res.Code = CodeUnknownTool
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, a.Name)
		res.Output = "unknown command: " + a.Name
		return res
	}

	s := t.Spec()
	if len(a.Args) < s.MinArgs || (s.MaxArgs != Unbounded && len(a.Args) > s.MaxArgs) {
		res.Code = CodeBadArgs
		res.Err = fmt.Errorf("%w: %s takes %s, got %d", ErrBadArgs, s.Name, arity(s), len(a.Args))
		res.Output = "error: " + res.Err.Error()
		if s.Usage != "" {
			res.Output += "\nusage: " + s.Usage
		}
		return res
	}

	switch {
	case r.mode == ModeSimulation:
		res.Code = CodeSimulated
		res.Output = fmt.Sprintf("[SIMULATION] tool %s would run with arguments %q", s.Name, a.Args)
		return res
	case r.mode == ModeSafe && !s.Safe:
		res.Code = CodeBlocked
		res.Err = fmt.Errorf("%w: %s", ErrBlocked, s.Name)
		res.Output = fmt.Sprintf("[SAFE MODE] tool %s is not allowed", s.Name)
		return res
	}

	out, err := invoke(ctx, t, a.Args)
	if err != nil {
		log.Printf("tool %s failed: %v", s.Name, err)
		res.Code = CodeFailed
		res.Err = err
		res.Output = "error: " + err.Error()
		if out != "" {
			res.Output = out + "\n" + res.Output
		}
		return res
	}
	res.Code = CodeOK
	res.Output = out
	return res
}

func invoke(ctx context.Context, t Tool, args []string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return t.Invoke(ctx, args)
}

func arity(s Spec) string {
	switch {
	case s.MaxArgs == Unbounded:
		return fmt.Sprintf("at least %d arguments", s.MinArgs)
	case s.MinArgs == s.MaxArgs:
		return fmt.Sprintf("%d arguments", s.MinArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", s.MinArgs, s.MaxArgs)
	}
}

// Describe lists the registered tools for a system prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, s := range r.Specs() {
		b.WriteString("- ")
		b.WriteString(s.Name)
		if s.Usage != "" {
			b.WriteString(": ")
			b.WriteString(s.Usage)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
