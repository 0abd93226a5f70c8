package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (t *Toolset) logActivity(_ context.Context, args []string) (string, error) {
	category := strings.ToUpper(strings.TrimSpace(args[0]))
	action := strings.TrimSpace(args[1])
	if category == "" || action == "" {
		return "", fmt.Errorf("category and action are required")
	}
	if err := t.record(category, action, args[2]); err != nil {
		return "", err
	}
	return fmt.Sprintf("Logged activity [%s] %s", category, action), nil
}

// record appends one line to the activity log of the current day.
func (t *Toolset) record(category string, action string, details string) error {
	now := t.now()
	details = strings.ReplaceAll(strings.ReplaceAll(details, "\r", " "), "\n", " ")
	line := fmt.Sprintf("[%s] [%s] [%s] %s\n", now.Format("2006-01-02 15:04:05"), category, action, details)
	return t.appendLog("activity_"+now.Format("2006-01-02")+".log", line)
}

func (t *Toolset) appendLog(name string, text string) error {
	t.logMu.Lock()
	defer t.logMu.Unlock()

	if err := os.MkdirAll(t.cfg.LogsDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(t.cfg.LogsDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
