package tools

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const maxBackupFileSize = 50 << 20

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
}

type ExtensionCount struct {
	Extension string `json:"extension"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
}

type ProjectReport struct {
	Root        string           `json:"root"`
	GeneratedAt time.Time        `json:"generated_at"`
	Files       int              `json:"files"`
	Directories int              `json:"directories"`
	TotalBytes  int64            `json:"total_bytes"`
	Extensions  []ExtensionCount `json:"extensions"`
}

// Analyze walks root and summarizes its files by extension.
func Analyze(root string) (ProjectReport, error) {
	report := ProjectReport{Root: root}
	byExt := map[string]*ExtensionCount{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			report.Directories++
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if ext == "" {
			ext = "(none)"
		}
		c := byExt[ext]
		if c == nil {
			c = &ExtensionCount{Extension: ext}
			byExt[ext] = c
		}
		c.Files++
		c.Bytes += info.Size()
		report.Files++
		report.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return ProjectReport{}, err
	}

	for _, c := range byExt {
		report.Extensions = append(report.Extensions, *c)
	}
	sort.Slice(report.Extensions, func(i, j int) bool {
		a, b := report.Extensions[i], report.Extensions[j]
		if a.Files != b.Files {
			return a.Files > b.Files
		}
		return a.Extension < b.Extension
	})
	return report, nil
}

func (t *Toolset) analyzeProject(_ context.Context, _ []string) (string, error) {
	report, err := Analyze(t.root)
	if err != nil {
		return "", err
	}
	now := t.now()
	report.GeneratedAt = now

	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	name := "project_analysis_" + now.Format("20060102_150405") + ".json"
	if err := t.appendLog(name, string(b)+"\n"); err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Project: %s\n%d files in %d directories, %d bytes\n", report.Root, report.Files, report.Directories, report.TotalBytes)
	for _, c := range report.Extensions {
		fmt.Fprintf(&out, "%s: %d files, %d bytes\n", c.Extension, c.Files, c.Bytes)
	}
	fmt.Fprintf(&out, "report saved to %s", filepath.Join(t.cfg.LogsDir, name))
	return out.String(), nil
}

func (t *Toolset) backupProject(_ context.Context, args []string) (string, error) {
	name := ""
	if len(args) > 0 {
		name = strings.TrimSuffix(strings.TrimSpace(args[0]), ".zip")
	}
	if name == "" {
		name = "project_backup_" + t.now().Format("20060102_150405")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\:`) {
		return "", fmt.Errorf("invalid backup name %q", name)
	}

	archiveDir, err := filepath.Abs(t.cfg.ArchiveDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(archiveDir, name+".zip")
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("backup %s already exists", dest)
	}

	tmp, err := os.CreateTemp(archiveDir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	added, skipped, err := writeArchive(tmp, t.root, archiveDir)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	t.note("BACKUP", "BACKUP_PROJECT", dest)
	return fmt.Sprintf("Backup created: %s (%d files, %d skipped)", dest, added, skipped), nil
}

func writeArchive(w io.Writer, root string, exclude string) (added int, skipped int, err error) {
	zw := zip.NewWriter(w)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (skippedDirs[d.Name()] || path == exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxBackupFileSize {
			skipped++
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		if err != nil {
			return err
		}
		added++
		return nil
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	return added, skipped, err
}
