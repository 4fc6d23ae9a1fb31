package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/flowpilot/flowpilot/common/config"
	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

var sessionIDPattern = regexp.MustCompile(`(?i)session[ _-]?id[:= ]+([a-zA-Z0-9-]+)`)

// ChatCLIExecutor runs prompts through a local chat CLI binary in one-shot
// print mode.
type ChatCLIExecutor struct {
	cfg config.ChatCLIConfig

	mu       sync.Mutex
	resolved string
	lookupOK bool
}

// NewChatCLIExecutor creates a chat-cli executor
func NewChatCLIExecutor(cfg config.ChatCLIConfig) *ChatCLIExecutor {
	return &ChatCLIExecutor{cfg: cfg}
}

func (e *ChatCLIExecutor) Type() string                  { return "chat-cli" }
func (e *ChatCLIExecutor) DefaultTimeout() time.Duration { return DefaultChatCLITimeout }

// binaryPath resolves the CLI binary once and caches the result. A node
// config binary overrides the configured one and bypasses the cache.
func (e *ChatCLIExecutor) binaryPath(override string) (string, error) {
	if override != "" {
		return lookupBinary(override)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookupOK {
		return e.resolved, nil
	}
	path, err := lookupBinary(e.cfg.Binary)
	if err != nil {
		return "", fmt.Errorf("chat CLI binary %q not found in PATH or install directories", e.cfg.Binary)
	}
	e.resolved = path
	e.lookupOK = true
	return path, nil
}

// lookupBinary checks PATH first and then the conventional install
// directories that one-line installers drop binaries into.
func lookupBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	dirs := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, ".local", "bin")}, dirs...)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("binary %q not found", name)
}

// Execute runs the CLI with the rendered prompt. Supported output formats
// are text (default), json and stream-json; json formats are parsed for the
// result text, session id and usage fields.
func (e *ChatCLIExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	prompt := node.ConfigString("prompt")
	if prompt == "" {
		return errorf(node, "chat-cli requires a prompt")
	}

	format := node.ConfigString("output_format")
	switch format {
	case "":
		format = "text"
	case "text", "json", "stream-json":
	default:
		return errorf(node, "unsupported output_format %q", format)
	}

	binary, err := e.binaryPath(node.ConfigString("binary"))
	if err != nil {
		result := errorf(node, "%v", err)
		result.SetData("category", string(retry.CategoryPermanent))
		return result.Stamp(started)
	}

	args := []string{"-p", prompt, "--output-format", format}
	if model := node.ConfigString("model"); model != "" {
		args = append(args, "--model", model)
	}
	if system := node.ConfigString("system_prompt"); system != "" {
		args = append(args, "--append-system-prompt", system)
	}
	if tools := node.ConfigStringList("allowed_tools"); len(tools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(tools, ","))
	}
	if node.ConfigBool("no_tools", false) {
		args = append(args, "--no-tools")
	}
	if session := node.ConfigString("session_id"); session != "" {
		args = append(args, "--resume", session)
	}
	if node.ConfigBool("save_session", false) {
		args = append(args, "--save-session")
	}
	for _, extra := range node.ConfigStringList("extra_args") {
		args = append(args, extra)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	terminateGracefully(cmd)
	cmd.Env = append(os.Environ(),
		"FLOWPILOT_EXECUTION_ID="+rc.ExecutionID,
		"FLOWPILOT_WORKFLOW="+rc.WorkflowName,
	)
	if dir := node.ConfigString("working_dir"); dir != "" {
		expanded, err := expandPath(dir)
		if err != nil {
			return errorf(node, "working_dir: %v", err)
		}
		cmd.Dir = expanded
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &models.NodeResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.Status = models.ResultError
			result.ErrorMessage = "chat CLI killed after timeout"
			result.SetData("category", string(retry.CategoryTransient))
		case ctx.Err() == context.Canceled:
			result.Status = models.ResultSkipped
			result.ErrorMessage = "execution cancelled"
			result.SetData("cancelled", true)
		case errors.As(runErr, &exitErr):
			result.Status = models.ResultError
			result.ErrorMessage = fmt.Sprintf("chat CLI exited with code %d", exitErr.ExitCode())
			result.SetData("exit_code", exitErr.ExitCode())
			classification := retry.ClassifyExit(exitErr.ExitCode(), result.Stderr)
			result.SetData("category", string(classification.Category))
		default:
			result.Status = models.ResultError
			result.ErrorMessage = fmt.Sprintf("failed to run chat CLI: %v", runErr)
			result.SetData("category", string(retry.CategoryTransient))
		}
		if session := extractSessionID(result.Stderr); session != "" {
			result.SetData("session_id", session)
		}
		return result.Stamp(started)
	}

	result.Status = models.ResultSuccess
	switch format {
	case "text":
		result.Output = strings.TrimSpace(stdout.String())
	case "json":
		parseCLIResultJSON(result, strings.TrimSpace(stdout.String()))
	case "stream-json":
		parseCLIStreamJSON(result, stdout.String())
	}

	if result.Data["session_id"] == nil {
		if session := extractSessionID(result.Stderr); session != "" {
			result.SetData("session_id", session)
		}
	}
	return result.Stamp(started)
}

// parseCLIResultJSON extracts fields from the CLI's single-object json
// output, falling back to the raw text when it is not valid JSON.
func parseCLIResultJSON(result *models.NodeResult, raw string) {
	if !gjson.Valid(raw) {
		result.Output = raw
		return
	}
	doc := gjson.Parse(raw)
	if v := doc.Get("result"); v.Exists() {
		result.Output = v.String()
	} else {
		result.Output = raw
	}
	if v := doc.Get("session_id"); v.Exists() {
		result.SetData("session_id", v.String())
	}
	if v := doc.Get("total_cost_usd"); v.Exists() {
		result.SetData("cost_usd", v.Float())
	}
	if v := doc.Get("usage.input_tokens"); v.Exists() {
		result.SetData("input_tokens", v.Int())
	}
	if v := doc.Get("usage.output_tokens"); v.Exists() {
		result.SetData("output_tokens", v.Int())
	}
	if v := doc.Get("num_turns"); v.Exists() {
		result.SetData("num_turns", v.Int())
	}
}

// parseCLIStreamJSON walks newline-delimited JSON events and assembles the
// assistant text, keeping the final result event's metadata when present.
func parseCLIStreamJSON(result *models.NodeResult, raw string) {
	var text strings.Builder
	var events []any
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		event := gjson.Parse(line)
		events = append(events, event.Value())
		switch event.Get("type").String() {
		case "assistant":
			event.Get("message.content").ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					text.WriteString(block.Get("text").String())
				}
				return true
			})
		case "result":
			parseCLIResultJSON(result, line)
		}
	}
	if text.Len() > 0 {
		result.Output = strings.TrimSpace(text.String())
	}
	if len(events) > 0 {
		result.SetData("events", events)
	}
}

func extractSessionID(stderr string) string {
	if m := sessionIDPattern.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	return ""
}
