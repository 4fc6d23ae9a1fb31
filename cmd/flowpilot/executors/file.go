package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
)

// FileReadExecutor reads a file into the node output.
type FileReadExecutor struct{}

// NewFileReadExecutor creates a file-read executor
func NewFileReadExecutor() *FileReadExecutor {
	return &FileReadExecutor{}
}

func (e *FileReadExecutor) Type() string                  { return "file-read" }
func (e *FileReadExecutor) DefaultTimeout() time.Duration { return DefaultFileTimeout }

func (e *FileReadExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	path := node.ConfigString("path")
	if path == "" {
		return errorf(node, "file-read requires a path")
	}
	path, err := expandPath(path)
	if err != nil {
		return errorf(node, "%v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errorf(node, "file not found: %s", path).Stamp(started)
		}
		if os.IsPermission(err) {
			return errorf(node, "permission denied: %s", path).Stamp(started)
		}
		return errorf(node, "cannot stat %s: %v", path, err).Stamp(started)
	}
	if info.IsDir() {
		return errorf(node, "%s is a directory", path).Stamp(started)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errorf(node, "failed to read %s: %v", path, err).Stamp(started)
	}

	text := string(content)
	result := models.NewSuccessResult(text)
	result.SetData("path", path)
	result.SetData("size_bytes", len(content))
	result.SetData("line_count", countLines(text))
	return result.Stamp(started)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

// FileWriteExecutor writes or appends content to a file, creating parent
// directories as needed.
type FileWriteExecutor struct{}

// NewFileWriteExecutor creates a file-write executor
func NewFileWriteExecutor() *FileWriteExecutor {
	return &FileWriteExecutor{}
}

func (e *FileWriteExecutor) Type() string                  { return "file-write" }
func (e *FileWriteExecutor) DefaultTimeout() time.Duration { return DefaultFileTimeout }

func (e *FileWriteExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	path := node.ConfigString("path")
	if path == "" {
		return errorf(node, "file-write requires a path")
	}
	path, err := expandPath(path)
	if err != nil {
		return errorf(node, "%v", err)
	}

	mode := node.ConfigString("mode")
	switch mode {
	case "", "write", "append":
	default:
		return errorf(node, "mode %q must be write or append", mode)
	}

	content := node.ConfigString("content")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorf(node, "failed to create parent directory: %v", err).Stamp(started)
	}

	if mode == "append" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return errorf(node, "failed to open %s: %v", path, err).Stamp(started)
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return errorf(node, "failed to append to %s: %v", path, err).Stamp(started)
		}
	} else {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errorf(node, "failed to write %s: %v", path, err).Stamp(started)
		}
	}

	result := models.NewSuccessResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
	result.SetData("path", path)
	result.SetData("bytes_written", len(content))
	// bytes_written is this node's delta; file_size is the resulting file,
	// which differs in append mode.
	if info, err := os.Stat(path); err == nil {
		result.SetData("file_size", info.Size())
	}
	result.SetData("mode", effectiveMode(mode))
	return result.Stamp(started)
}

func effectiveMode(mode string) string {
	if mode == "" {
		return "write"
	}
	return mode
}
