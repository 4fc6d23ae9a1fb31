package executors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowpilot/flowpilot/common/models"
)

func TestFileRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("one\ntwo\nthree"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewFileReadExecutor()
	node := &models.Node{ID: "read", Type: "file-read", Config: map[string]any{"path": path}}
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.ErrorMessage)
	}
	if result.Output != "one\ntwo\nthree" {
		t.Errorf("output = %q", result.Output)
	}
	if result.Data["size_bytes"] != 13 {
		t.Errorf("size_bytes = %v", result.Data["size_bytes"])
	}
	if result.Data["line_count"] != 3 {
		t.Errorf("line_count = %v", result.Data["line_count"])
	}
}

func TestFileRead_Missing(t *testing.T) {
	e := NewFileReadExecutor()
	node := &models.Node{ID: "read", Type: "file-read", Config: map[string]any{
		"path": filepath.Join(t.TempDir(), "absent.txt"),
	}}
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if got := result.ErrorMessage; !strings.Contains(got, "file not found") {
		t.Errorf("error = %q", got)
	}
}

func TestFileRead_Directory(t *testing.T) {
	e := NewFileReadExecutor()
	node := &models.Node{ID: "read", Type: "file-read", Config: map[string]any{"path": t.TempDir()}}
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultError || !strings.Contains(result.ErrorMessage, "is a directory") {
		t.Errorf("result = %s %q", result.Status, result.ErrorMessage)
	}
}

func TestFileWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.md")
	e := NewFileWriteExecutor()
	node := &models.Node{ID: "write", Type: "file-write", Config: map[string]any{
		"path":    path,
		"content": "# Report\n",
	}}
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.ErrorMessage)
	}
	if result.Data["bytes_written"] != 9 {
		t.Errorf("bytes_written = %v", result.Data["bytes_written"])
	}
	if result.Data["mode"] != "write" {
		t.Errorf("mode = %v", result.Data["mode"])
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "# Report\n" {
		t.Errorf("file content = %q, err %v", data, err)
	}
}

func TestFileWrite_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	e := NewFileWriteExecutor()
	var last *models.NodeResult
	for _, line := range []string{"first\n", "second\n"} {
		node := &models.Node{ID: "write", Type: "file-write", Config: map[string]any{
			"path":    path,
			"content": line,
			"mode":    "append",
		}}
		last = e.Execute(context.Background(), node, testContext())
		if last.Status != models.ResultSuccess {
			t.Fatalf("append failed: %s", last.ErrorMessage)
		}
	}

	if last.Data["bytes_written"] != 7 {
		t.Errorf("bytes_written = %v", last.Data["bytes_written"])
	}
	if last.Data["file_size"] != int64(13) {
		t.Errorf("file_size = %v", last.Data["file_size"])
	}

	data, _ := os.ReadFile(path)
	if string(data) != "first\nsecond\n" {
		t.Errorf("file content = %q", data)
	}
}

func TestFileWrite_BadMode(t *testing.T) {
	e := NewFileWriteExecutor()
	node := &models.Node{ID: "write", Type: "file-write", Config: map[string]any{
		"path": filepath.Join(t.TempDir(), "x"),
		"mode": "truncate",
	}}
	result := e.Execute(context.Background(), node, testContext())
	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestCountLines(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"one", 1},
		{"one\n", 1},
		{"one\ntwo\n", 2},
		{"one\ntwo", 2},
	}
	for _, tc := range cases {
		if got := countLines(tc.in); got != tc.want {
			t.Errorf("countLines(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
