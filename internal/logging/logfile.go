package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFilePrefix starts every generated log file name. Retention only touches these files.
const LogFilePrefix = "kdeploy-"

// DefaultRetentionDays applies when LogConfig.RetentionDays is zero.
const DefaultRetentionDays = 7

// LogConfig selects where command logs go.
type LogConfig struct {
	Output string // Path, "-" for stderr, "none" to disable, empty to generate a name
	Dir    string // Log directory (default: $KDEPLOY_DIR/logs)
	// RetentionDays bounds the age of generated files in Dir. Zero uses DefaultRetentionDays,
	// negative keeps everything.
	RetentionDays int
}

// LogFile manages a log file lifecycle.
type LogFile struct {
	Path string // Full path to the log file (empty if output is disabled)
	// Removed counts the expired files deleted when the file was opened.
	Removed int
	file    *os.File
	writer  io.Writer
}

// NewLogFile opens the log destination described by cfg. Opening a file inside Dir
// also expires old generated files there; expiry failures never fail the open.
//
// Output behavior:
//   - empty: new generated file in Dir
//   - "-": os.Stderr
//   - "none": io.Discard
//   - path: absolute, or relative to Dir
func NewLogFile(cfg *LogConfig) (*LogFile, error) {
	lf := &LogFile{}
	switch strings.ToLower(cfg.Output) {
	case "none":
		lf.writer = io.Discard
		return lf, nil
	case "-":
		lf.writer = os.Stderr
		return lf, nil
	case "":
		lf.Path = filepath.Join(cfg.Dir, GenerateLogFilename(time.Now().UTC()))
	default:
		lf.Path = cfg.Output
		if !filepath.IsAbs(lf.Path) {
			lf.Path = filepath.Join(cfg.Dir, lf.Path)
		}
	}

	dir := filepath.Dir(lf.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory %q: %w", dir, err)
	}
	if cfg.Dir != "" && filepath.Clean(dir) == filepath.Clean(cfg.Dir) {
		days := cfg.RetentionDays
		if days == 0 {
			days = DefaultRetentionDays
		}
		lf.Removed, _ = CleanupOldLogFiles(dir, days)
	}

	f, err := os.OpenFile(lf.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", lf.Path, err)
	}
	lf.file = f
	lf.writer = f
	return lf, nil
}

// Writer returns the io.Writer for log output.
func (lf *LogFile) Writer() io.Writer {
	return lf.writer
}

// Close closes the log file if it was opened.
func (lf *LogFile) Close() error {
	if lf.file == nil {
		return nil
	}
	return lf.file.Close()
}

// GenerateLogFilename returns kdeploy-YYYYMMDD-HHMMSS-sss.log for t, sss being milliseconds.
func GenerateLogFilename(t time.Time) string {
	return fmt.Sprintf("%s%s-%03d.log", LogFilePrefix, t.Format("20060102-150405"), t.Nanosecond()/1_000_000)
}

// CleanupOldLogFiles removes generated log files in dir modified more than retentionDays ago
// and returns how many were removed. A missing dir or retentionDays <= 0 removes nothing.
func CleanupOldLogFiles(dir string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading log directory %q: %w", dir, err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, LogFilePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed, nil
}
