package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	now := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want string
	}{
		{"verified-{date}.txt", "verified-2024-03-07.txt"},
		{"out/{date}/proxies.txt", "out/2024-03-07/proxies.txt"},
		{"plain.txt", "plain.txt"},
	}

	for _, tt := range tests {
		if got := ExpandPath(tt.in, now); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileSinkWritesFlatList(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "verified-{date}.txt"))
	if err != nil {
		t.Fatalf("NewFileSink() error: %v", err)
	}
	defer sink.Close()

	result := &Result{
		TargetURL:   "http://example.com/",
		Total:       3,
		Success:     2,
		Failure:     1,
		Verified:    []string{"1.2.3.4:8080", "9.9.9.9:3128"},
		CompletedAt: time.Now(),
	}
	if err := sink.Save(result); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	wantPath := filepath.Join(dir, "verified-"+time.Now().Format("2006-01-02")+".txt")
	if sink.Path() != wantPath {
		t.Errorf("Path() = %q, want %q", sink.Path(), wantPath)
	}

	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "1.2.3.4:8080\n9.9.9.9:3128\n"
	if string(data) != want {
		t.Errorf("output = %q, want %q", data, want)
	}

	// No leftover temp file from the atomic write
	if _, err := os.Stat(wantPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestFileSinkCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "results", "daily", "out.txt")

	sink, err := NewFileSink(nested)
	if err != nil {
		t.Fatalf("NewFileSink() error: %v", err)
	}
	if err := sink.Save(&Result{Verified: []string{"1.1.1.1:80"}}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestNewSinkUnknownType(t *testing.T) {
	if _, err := NewSink("carrier-pigeon", "somewhere"); err == nil {
		t.Error("NewSink() accepted unknown type")
	} else if !strings.Contains(err.Error(), "unknown output type") {
		t.Errorf("unexpected error: %v", err)
	}
}
