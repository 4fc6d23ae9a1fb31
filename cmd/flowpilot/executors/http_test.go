package executors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/models"
)

func httpNode(config map[string]any) *models.Node {
	return &models.Node{ID: "call", Type: "http", Config: config}
}

func TestHTTP_GetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"items":[1,2]}`))
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	if result.Status != models.ResultSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.ErrorMessage)
	}
	if result.Data["status_code"] != 200 {
		t.Errorf("status_code = %v", result.Data["status_code"])
	}
	body, ok := result.Data["body"].(map[string]any)
	if !ok || body["ok"] != true {
		t.Errorf("body = %v", result.Data["body"])
	}
}

func TestHTTP_PostJSONBody(t *testing.T) {
	var received map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	node := httpNode(map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"name": "deploy"},
		"headers": map[string]any{
			"X-Token": "abc",
		},
	})
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultSuccess {
		t.Fatalf("status = %s, error = %s", result.Status, result.ErrorMessage)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}
	if received["name"] != "deploy" {
		t.Errorf("server received %v", received)
	}
}

func TestHTTP_StringBodyVerbatim(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		received = string(raw)
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	node := httpNode(map[string]any{"url": srv.URL, "method": "PUT", "body": "plain payload"})
	if result := e.Execute(context.Background(), node, testContext()); result.Status != models.ResultSuccess {
		t.Fatalf("status = %s", result.Status)
	}
	if received != "plain payload" {
		t.Errorf("server received %q", received)
	}
}

func TestHTTP_ServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Data["category"] != "transient" {
		t.Errorf("category = %v", result.Data["category"])
	}
	if result.Data["status_code"] != 500 {
		t.Errorf("status_code = %v", result.Data["status_code"])
	}
}

func TestHTTP_ClientErrorPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	if result.Status != models.ResultError || result.Data["category"] != "permanent" {
		t.Errorf("result = %s category = %v", result.Status, result.Data["category"])
	}
}

func TestHTTP_RetryAfterHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	if result.Data["category"] != "resource" {
		t.Errorf("category = %v", result.Data["category"])
	}
	if result.Data["retry_after"] != 17.0 {
		t.Errorf("retry_after = %v", result.Data["retry_after"])
	}
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	e := NewHTTPExecutor()
	node := httpNode(map[string]any{"url": "http://127.0.0.1:1"})
	result := e.Execute(context.Background(), node, testContext())

	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Data["category"] != "transient" {
		t.Errorf("category = %v", result.Data["category"])
	}
}

func TestHTTP_MissingURL(t *testing.T) {
	e := NewHTTPExecutor()
	if result := e.Execute(context.Background(), httpNode(map[string]any{}), testContext()); result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("30"); d != 30*time.Second {
		t.Errorf("seconds form = %v", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty = %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("http-date form = %v", d)
	}
	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(past); d != 0 {
		t.Errorf("past http-date = %v", d)
	}
}

func TestHTTP_BodyDecodedWithoutJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(`{"count": 3}`))
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	body, ok := result.Data["body"].(map[string]any)
	if !ok || body["count"] != 3.0 {
		t.Errorf("body = %v", result.Data["body"])
	}
}

func TestHTTP_NonJSONBodyWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	e := NewHTTPExecutor()
	result := e.Execute(context.Background(), httpNode(map[string]any{"url": srv.URL}), testContext())

	body, ok := result.Data["body"].(map[string]any)
	if !ok || body["text"] != "plain text" {
		t.Errorf("body = %v", result.Data["body"])
	}
}
