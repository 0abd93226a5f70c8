package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const maxReadBytes = 256 << 10

func (t *Toolset) readFile(_ context.Context, args []string) (string, error) {
	path, err := t.resolve(args[0])
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, args[0])
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", args[0])
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%d bytes)\n\n", t.display(path), info.Size())
	if len(data) > maxReadBytes {
		b.Write(data[:maxReadBytes])
		fmt.Fprintf(&b, "\n... [truncated after %d bytes]", maxReadBytes)
	} else {
		b.Write(data)
	}
	t.note("FILE_OPERATION", "READ_FILE", path)
	return b.String(), nil
}

func (t *Toolset) listDir(_ context.Context, args []string) (string, error) {
	target := "."
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		target = args[0]
	}
	path, err := t.resolve(target)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if err != nil {
		return "", err
	}

	var dirs, files []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, "[DIR]  "+e.Name()+"/")
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fmt.Sprintf("[FILE] %s (%d bytes, %s)", e.Name(), info.Size(), info.ModTime().Format("2006-01-02 15:04")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n", t.display(path))
	if len(dirs)+len(files) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, line := range append(dirs, files...) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d directories, %d files", len(dirs), len(files))
	return b.String(), nil
}

func (t *Toolset) writeCode(_ context.Context, args []string) (string, error) {
	path, err := t.resolve(args[0])
	if err != nil {
		return "", err
	}
	content := args[1]

	old, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}

	if err := t.recordChange(path, string(old), content); err != nil {
		return "", fmt.Errorf("file written but change log failed: %w", err)
	}
	t.note("CODE_CHANGE", "WRITE_CODE", path)

	if !existed {
		return fmt.Sprintf("Created %s (%d bytes)", t.display(path), len(content)), nil
	}
	return fmt.Sprintf("Updated %s (%d bytes, %d -> %d lines)", t.display(path), len(content), countLines(string(old)), countLines(content)), nil
}

func (t *Toolset) createDirectory(_ context.Context, args []string) (string, error) {
	path, err := t.resolve(args[0])
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return "", fmt.Errorf("%s exists and is not a directory", args[0])
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	t.note("FILE_OPERATION", "CREATE_DIRECTORY", path)
	return "Directory ready: " + t.display(path), nil
}

// recordChange appends a line diff of one file write to code_changes.log.
func (t *Toolset) recordChange(path string, before string, after string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s %s ===\n", t.now().Format("2006-01-02 15:04:05"), path)
	b.WriteString(lineDiff(before, after))
	b.WriteByte('\n')
	return t.appendLog("code_changes.log", b.String())
}

// lineDiff reports the changed middle of two texts after trimming their
// common leading and trailing lines.
func lineDiff(before string, after string) string {
	a := splitLines(before)
	b := splitLines(after)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	var out strings.Builder
	fmt.Fprintf(&out, "@@ line %d @@\n", prefix+1)
	for _, l := range a[prefix : len(a)-suffix] {
		out.WriteString("-" + l + "\n")
	}
	for _, l := range b[prefix : len(b)-suffix] {
		out.WriteString("+" + l + "\n")
	}
	return out.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func countLines(s string) int {
	return len(splitLines(s))
}
