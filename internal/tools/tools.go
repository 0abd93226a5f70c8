// Package tools implements the built-in tools a model can call through
// TOOL_ACTION lines.
package tools

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codebox-relay/internal/config"
	"codebox-relay/internal/toolcall"
)

var (
	ErrPathRequired     = errors.New("path is required")
	ErrPathForbidden    = errors.New("path is not allowed")
	ErrNotFound         = errors.New("path not found")
	ErrCommandsDisabled = errors.New("system commands are disabled")
	ErrCommandBlocked   = errors.New("command blocked")
	ErrCommandTimeout   = errors.New("command timed out")
)

var restrictedPrefixes = []string{"/etc", "/var", "/usr", `C:\Windows`, `C:\Program Files`}

// Toolset binds the built-in tools to a project root and its log and
// archive directories.
type Toolset struct {
	cfg  config.Tools
	root string
	now  func() time.Time

	logMu sync.Mutex
}

func New(cfg config.Tools) (*Toolset, error) {
	if strings.TrimSpace(cfg.ProjectRoot) == "" {
		return nil, fmt.Errorf("project_root is required")
	}
	root, err := filepath.Abs(cfg.ProjectRoot)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create project root: %w", err)
	}
	if cfg.LogsDir == "" {
		cfg.LogsDir = "logs"
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = "archived_states"
	}
	if cfg.CommandTimeoutSeconds <= 0 {
		cfg.CommandTimeoutSeconds = 30
	}
	return &Toolset{cfg: cfg, root: root, now: time.Now}, nil
}

// RegisterAll creates a Toolset for cfg and registers every built-in tool.
func RegisterAll(reg *toolcall.Registry, cfg config.Tools) (*Toolset, error) {
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := t.Register(reg); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Toolset) Root() string {
	return t.root
}

func (t *Toolset) Register(reg *toolcall.Registry) error {
	for _, f := range []toolcall.Func{
		{S: toolcall.Spec{Name: "READ_FILE", MinArgs: 1, MaxArgs: 1, Safe: true, Usage: `READ_FILE("path")`}, Fn: t.readFile},
		{S: toolcall.Spec{Name: "LIST_DIR", MinArgs: 0, MaxArgs: 1, Safe: true, Usage: `LIST_DIR("path")`}, Fn: t.listDir},
		{S: toolcall.Spec{Name: "WRITE_CODE", MinArgs: 2, MaxArgs: 2, Usage: `WRITE_CODE("path", "content")`}, Fn: t.writeCode},
		{S: toolcall.Spec{Name: "CREATE_DIRECTORY", MinArgs: 1, MaxArgs: 1, Usage: `CREATE_DIRECTORY("path")`}, Fn: t.createDirectory},
		{S: toolcall.Spec{Name: "EXECUTE_COMMAND", MinArgs: 1, MaxArgs: 2, Usage: `EXECUTE_COMMAND("command", "workdir")`}, Fn: t.executeCommand},
		{S: toolcall.Spec{Name: "LOG_ACTIVITY", MinArgs: 3, MaxArgs: 3, Safe: true, Usage: `LOG_ACTIVITY("category", "action", "details")`}, Fn: t.logActivity},
		{S: toolcall.Spec{Name: "ANALYZE_PROJECT", MinArgs: 0, MaxArgs: 0, Safe: true, Usage: `ANALYZE_PROJECT()`}, Fn: t.analyzeProject},
		{S: toolcall.Spec{Name: "BACKUP_PROJECT", MinArgs: 0, MaxArgs: 1, Usage: `BACKUP_PROJECT("name")`}, Fn: t.backupProject},
		{S: toolcall.Spec{Name: "SYSTEM_INFO", MinArgs: 0, MaxArgs: 0, Safe: true, Usage: `SYSTEM_INFO()`}, Fn: t.systemInfo},
	} {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// resolve maps a tool path argument to an absolute path. Relative paths stay
// inside the project root; absolute paths need AllowAbsolutePaths and may
// not point into a restricted system location.
func (t *Toolset) resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrPathRequired
	}

	if isAbs(p) {
		if !t.cfg.AllowAbsolutePaths {
			return "", fmt.Errorf("%w: absolute paths are disabled: %s", ErrPathForbidden, p)
		}
		clean := filepath.Clean(p)
		if restricted(clean) {
			return "", fmt.Errorf("%w: restricted system location: %s", ErrPathForbidden, p)
		}
		return clean, nil
	}

	abs := filepath.Join(t.root, p)
	if !within(t.root, abs) {
		return "", fmt.Errorf("%w: %s escapes the project root", ErrPathForbidden, p)
	}
	return abs, nil
}

// display renders path relative to the project root when it lies inside it.
func (t *Toolset) display(path string) string {
	if within(t.root, path) {
		if rel, err := filepath.Rel(t.root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return path
}

func within(root string, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isAbs(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\\`) {
		return true
	}
	// Drive-letter paths are absolute on every host.
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/') &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

func restricted(p string) bool {
	norm := normalizeForCompare(p)
	for _, prefix := range restrictedPrefixes {
		pre := normalizeForCompare(prefix)
		if norm == pre || strings.HasPrefix(norm, pre+"/") {
			return true
		}
	}
	return false
}

func normalizeForCompare(p string) string {
	return strings.TrimRight(strings.ToLower(strings.ReplaceAll(p, `\`, "/")), "/")
}

// note records a tool action in the activity log. Failures are only logged.
func (t *Toolset) note(category string, action string, details string) {
	if err := t.record(category, action, details); err != nil {
		log.Printf("tools: activity log: %v", err)
	}
}
