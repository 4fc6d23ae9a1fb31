package triggers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flowpilot/flowpilot/common/config"
	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
)

// Webhook dispatch errors, mapped to HTTP statuses by the handler layer.
var (
	ErrHookNotFound     = errors.New("no webhook registered for path")
	ErrHookUnauthorized = errors.New("webhook authentication failed")
)

type hookEntry struct {
	workflowName string
	secret       string
}

// WebhookRegistry maps inbound webhook paths to workflows. A registered
// secret is verified from either the X-Webhook-Secret header or an
// X-Hub-Signature-256 HMAC of the request body.
type WebhookRegistry struct {
	launcher Launcher
	log      *logger.Logger

	mu     sync.RWMutex
	hooks  map[string]hookEntry // path -> entry
	byName map[string][]string  // workflow -> paths
}

// NewWebhookRegistry creates a webhook registry
func NewWebhookRegistry(launcher Launcher, log *logger.Logger) *WebhookRegistry {
	return &WebhookRegistry{
		launcher: launcher,
		log:      log,
		hooks:    make(map[string]hookEntry),
		byName:   make(map[string][]string),
	}
}

// Add registers every webhook trigger of a workflow, replacing previous
// registrations. A path already claimed by another workflow is an error.
// Secrets given as ${VAR} references resolve from the environment.
func (r *WebhookRegistry) Add(wf *models.Workflow) (int, error) {
	r.Remove(wf.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, trigger := range wf.Triggers {
		if trigger.Type != models.TriggerWebhook {
			continue
		}
		path := normalizeHookPath(trigger.Path)
		if owner, taken := r.hooks[path]; taken && owner.workflowName != wf.Name {
			return added, fmt.Errorf("webhook path %q already registered by workflow %q", path, owner.workflowName)
		}
		r.hooks[path] = hookEntry{
			workflowName: wf.Name,
			secret:       config.ResolveSecret(trigger.Secret),
		}
		r.byName[wf.Name] = append(r.byName[wf.Name], path)
		added++
	}
	return added, nil
}

// Remove drops all webhook paths of a workflow.
func (r *WebhookRegistry) Remove(workflowName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, path := range r.byName[workflowName] {
		delete(r.hooks, path)
	}
	delete(r.byName, workflowName)
}

// Registered reports whether a workflow has active webhook paths.
func (r *WebhookRegistry) Registered(workflowName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName[workflowName]) > 0
}

// Paths returns the registered webhook paths of a workflow.
func (r *WebhookRegistry) Paths(workflowName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byName[workflowName]...)
}

// HookRequest carries the parts of an inbound webhook request the registry
// needs for authentication and for the _webhook input.
type HookRequest struct {
	Method   string
	Path     string
	Header   http.Header
	Query    url.Values
	Body     []byte
	ClientIP string
}

// Dispatch authenticates an inbound request and launches the workflow bound
// to the path. The request is exposed to the workflow as the _webhook input;
// a non-JSON body decodes to an empty mapping.
func (r *WebhookRegistry) Dispatch(ctx context.Context, req HookRequest) (*models.Execution, error) {
	path := normalizeHookPath(req.Path)

	r.mu.RLock()
	entry, exists := r.hooks[path]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHookNotFound, path)
	}

	if entry.secret != "" && !authenticate(entry.secret, req.Header, req.Body) {
		return nil, fmt.Errorf("%w: %s", ErrHookUnauthorized, path)
	}

	query := make(map[string]string, len(req.Query))
	for key := range req.Query {
		query[key] = req.Query.Get(key)
	}
	inputs := map[string]any{
		"_webhook": map[string]any{
			"path":      path,
			"method":    req.Method,
			"headers":   flattenHeader(req.Header),
			"query":     query,
			"body":      decodeHookBody(req.Body),
			"client_ip": req.ClientIP,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	execution, err := r.launcher.Start(ctx, entry.workflowName, models.TriggerTagWebhook, inputs)
	if err != nil {
		return nil, err
	}
	r.log.Info("webhook firing",
		"workflow", entry.workflowName, "path", path, "execution_id", execution.ID)
	return execution, nil
}

// authenticate accepts either the shared-secret header or a GitHub-style
// sha256 HMAC signature. Both comparisons are constant time.
func authenticate(secret string, header http.Header, body []byte) bool {
	if provided := header.Get("X-Webhook-Secret"); provided != "" {
		return subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) == 1
	}
	if signature := header.Get("X-Hub-Signature-256"); signature != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(signature), []byte(expected))
	}
	return false
}

func normalizeHookPath(path string) string {
	return "/" + strings.Trim(path, "/")
}

func flattenHeader(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			flat[strings.ToLower(key)] = values[0]
		}
	}
	return flat
}

func decodeHookBody(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil && parsed != nil {
		return parsed
	}
	return map[string]any{}
}
