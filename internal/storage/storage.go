package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result is what a sink persists at the end of a run: the flat verified
// list plus the summary numbers that describe it.
type Result struct {
	TargetURL     string    `json:"target_url"`
	Total         int       `json:"total"`
	Success       int       `json:"success"`
	Failure       int       `json:"failure"`
	MeanLatencyMs int64     `json:"mean_latency_ms"`
	Verified      []string  `json:"verified"` // completion order
	CompletedAt   time.Time `json:"completed_at"`
}

type Sink interface {
	Save(result *Result) error
	Close() error
}

func NewSink(sinkType string, path string) (Sink, error) {
	switch sinkType {
	case "file":
		return NewFileSink(path)
	case "sqlite":
		return NewSQLiteSink(path)
	case "redis":
		return NewRedisSink(path)
	default:
		return nil, fmt.Errorf("unknown output type: %s", sinkType)
	}
}

// FileSink writes the verified list as a newline-joined flat file.
type FileSink struct {
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	path = ExpandPath(path, time.Now())

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	return &FileSink{path: path}, nil
}

// ExpandPath substitutes {date} with the current day stamp.
func ExpandPath(path string, now time.Time) string {
	return strings.ReplaceAll(path, "{date}", now.Format("2006-01-02"))
}

func (f *FileSink) Save(result *Result) error {
	var b strings.Builder
	for _, addr := range result.Verified {
		b.WriteString(addr)
		b.WriteString("\n")
	}

	// Atomic write: write to temp file, then rename
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}

	return nil
}

// Path returns the expanded output path.
func (f *FileSink) Path() string {
	return f.path
}

func (f *FileSink) Close() error {
	return nil
}
