package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

// ShellExecutor runs a command through the platform shell.
type ShellExecutor struct{}

// NewShellExecutor creates a shell executor
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{}
}

func (e *ShellExecutor) Type() string                  { return "shell" }
func (e *ShellExecutor) DefaultTimeout() time.Duration { return DefaultShellTimeout }

// Execute runs config.command via sh -c (cmd /C on Windows), with optional
// working_dir and extra env entries merged over the process environment.
func (e *ShellExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	command := node.ConfigString("command")
	if command == "" {
		return errorf(node, "shell requires a command")
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	terminateGracefully(cmd)

	if dir := node.ConfigString("working_dir"); dir != "" {
		expanded, err := expandPath(dir)
		if err != nil {
			return errorf(node, "working_dir: %v", err)
		}
		if info, err := os.Stat(expanded); err != nil || !info.IsDir() {
			return errorf(node, "working_dir %q is not a directory", expanded)
		}
		cmd.Dir = expanded
	}

	cmd.Env = os.Environ()
	if env := node.ConfigMap("env"); env != nil {
		for key, value := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%v", key, value))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &models.NodeResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
		Output: strings.TrimRight(stdout.String(), "\n"),
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.Status = models.ResultError
			result.ErrorMessage = fmt.Sprintf("command killed after timeout: %s", command)
			exitCode = 124
		case ctx.Err() == context.Canceled:
			result.Status = models.ResultSkipped
			result.ErrorMessage = "execution cancelled"
			result.SetData("cancelled", true)
			return result.Stamp(started)
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
			result.Status = models.ResultError
			result.ErrorMessage = fmt.Sprintf("command exited with code %d", exitCode)
		default:
			result.Status = models.ResultError
			result.ErrorMessage = fmt.Sprintf("failed to run command: %v", err)
			exitCode = -1
		}
		classification := retry.ClassifyExit(exitCode, result.Stderr)
		result.SetData("category", string(classification.Category))
	} else {
		result.Status = models.ResultSuccess
	}

	result.SetData("exit_code", exitCode)
	return result.Stamp(started)
}

// processGrace is how long a child gets between SIGTERM and SIGKILL when its
// context expires.
const processGrace = 5 * time.Second

// terminateGracefully makes context cancellation send SIGTERM first, with a
// force kill only after the grace window.
func terminateGracefully(cmd *exec.Cmd) {
	cmd.WaitDelay = processGrace
	if runtime.GOOS == "windows" {
		return
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
}

// expandPath resolves a leading ~ and environment references in a path.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = home + strings.TrimPrefix(path, "~")
	}
	return os.ExpandEnv(path), nil
}
