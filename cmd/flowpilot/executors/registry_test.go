package executors

import (
	"context"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/logger"
	"github.com/flowpilot/flowpilot/common/models"
)

type stubExecutor struct {
	kind    string
	timeout time.Duration
	run     func(ctx context.Context) *models.NodeResult
}

func (s *stubExecutor) Type() string                  { return s.kind }
func (s *stubExecutor) DefaultTimeout() time.Duration { return s.timeout }
func (s *stubExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	return s.run(ctx)
}

func testContext() *Context {
	return &Context{
		ExecutionID:  "exec-test",
		WorkflowName: "test",
		Vars:         map[string]any{},
		Log:          logger.Nop(),
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExecutor{kind: "noop", timeout: time.Second})

	if _, ok := r.Get("noop"); !ok {
		t.Error("registered executor not found")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("unexpected executor for unregistered type")
	}
	if types := r.Types(); len(types) != 1 || types[0] != "noop" {
		t.Errorf("types = %v", types)
	}
}

func TestRun_UnknownType(t *testing.T) {
	r := NewRegistry()
	node := &models.Node{ID: "a", Type: "ghost"}

	result := r.Run(context.Background(), node, testContext())
	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if result.ErrorMessage == "" {
		t.Error("missing error message")
	}
}

func TestRun_TimeoutClassifiedTransient(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExecutor{
		kind:    "slow",
		timeout: 20 * time.Millisecond,
		run: func(ctx context.Context) *models.NodeResult {
			<-ctx.Done()
			time.Sleep(time.Second)
			return models.NewSuccessResult("too late")
		},
	})

	node := &models.Node{ID: "a", Type: "slow"}
	result := r.Run(context.Background(), node, testContext())

	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Data["category"] != "transient" {
		t.Errorf("category = %v", result.Data["category"])
	}
	if result.Data["timeout_seconds"] != 0.02 {
		t.Errorf("timeout_seconds = %v", result.Data["timeout_seconds"])
	}
}

func TestRun_ConfigTimeoutOverride(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExecutor{
		kind:    "slow",
		timeout: time.Hour,
		run: func(ctx context.Context) *models.NodeResult {
			select {
			case <-ctx.Done():
				time.Sleep(time.Second)
				return models.NewSuccessResult("too late")
			case <-time.After(5 * time.Second):
				return models.NewSuccessResult("finished")
			}
		},
	})

	node := &models.Node{ID: "a", Type: "slow", Config: map[string]any{"timeout": 0.02}}
	start := time.Now()
	result := r.Run(context.Background(), node, testContext())

	if result.Status != models.ResultError {
		t.Fatalf("status = %s", result.Status)
	}
	if time.Since(start) > time.Second {
		t.Error("config timeout not applied")
	}
}

func TestRun_ParentCancelSkips(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubExecutor{
		kind:    "block",
		timeout: time.Hour,
		run: func(ctx context.Context) *models.NodeResult {
			<-ctx.Done()
			time.Sleep(time.Second)
			return models.NewSuccessResult("too late")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	node := &models.Node{ID: "a", Type: "block"}
	result := r.Run(ctx, node, testContext())

	if result.Status != models.ResultSkipped {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Data["cancelled"] != true {
		t.Errorf("cancelled = %v", result.Data["cancelled"])
	}
}
