package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
	"github.com/flowpilot/flowpilot/common/retry"
)

const maxResponseBytes = 10 << 20

// HTTPExecutor issues a single HTTP request.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an http executor
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{
		client: &http.Client{
			// per-node deadline comes from the registry context
			Timeout: 0,
		},
	}
}

func (e *HTTPExecutor) Type() string                  { return "http" }
func (e *HTTPExecutor) DefaultTimeout() time.Duration { return DefaultHTTPTimeout }

// Execute sends the configured request. Structured bodies are encoded as
// JSON; a string body is sent verbatim. Status codes outside 2xx-3xx fail
// the node with the status classified for retry.
func (e *HTTPExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	url := node.ConfigString("url")
	if url == "" {
		return errorf(node, "http requires a url")
	}
	method := strings.ToUpper(node.ConfigString("method"))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	contentType := ""
	if raw, ok := node.Config["body"]; ok && raw != nil {
		switch body := raw.(type) {
		case string:
			bodyReader = strings.NewReader(body)
		default:
			encoded, err := json.Marshal(body)
			if err != nil {
				return errorf(node, "cannot encode body: %v", err)
			}
			bodyReader = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return errorf(node, "invalid request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers := node.ConfigMap("headers"); headers != nil {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprintf("%v", value))
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			result := models.NewSkippedResult("execution cancelled")
			result.SetData("cancelled", true)
			return result.Stamp(started)
		}
		result := models.NewErrorResult("request failed: %v", err)
		result.SetData("category", string(retry.CategoryTransient))
		return result.Stamp(started)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		result := models.NewErrorResult("failed to read response: %v", err)
		result.SetData("category", string(retry.CategoryTransient))
		result.SetData("status_code", resp.StatusCode)
		return result.Stamp(started)
	}

	body := string(raw)
	var result *models.NodeResult
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		result = models.NewSuccessResult(body)
	} else {
		result = models.NewErrorResult("http %d from %s %s", resp.StatusCode, method, url)
		result.Output = body
		classification := retry.ClassifyHTTPStatus(resp.StatusCode)
		result.SetData("category", string(classification.Category))
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			result.SetData("retry_after", after.Seconds())
		}
	}

	result.SetData("status_code", resp.StatusCode)
	result.SetData("body", decodeBody(raw))
	return result.Stamp(started)
}

// decodeBody parses a response as JSON regardless of Content-Type, since
// plenty of APIs mislabel theirs. Unparseable bodies come back wrapped so
// downstream templates always see structured data.
func decodeBody(raw []byte) any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed
	}
	return map[string]any{"text": string(raw)}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
