package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/common/logger"
)

func testRegistry(threshold uint32) *Registry {
	return NewRegistry(Settings{
		FailureThreshold: threshold,
		RecoveryTimeout:  time.Minute,
		HalfOpenRequests: 1,
	}, logger.Nop())
}

func TestExecute_PassesThrough(t *testing.T) {
	r := testRegistry(3)

	out, err := r.Execute("http", func() (any, error) {
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "payload" {
		t.Errorf("out = %v", out)
	}
	if r.State("http") != "closed" {
		t.Errorf("state = %s, want closed", r.State("http"))
	}
}

func TestExecute_ReturnsCallerError(t *testing.T) {
	r := testRegistry(3)
	wantErr := errors.New("upstream exploded")

	_, err := r.Execute("http", func() (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want caller error", err)
	}
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	r := testRegistry(3)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if _, err := r.Execute("chat-api", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}

	if r.State("chat-api") != "open" {
		t.Fatalf("state = %s, want open", r.State("chat-api"))
	}

	called := false
	_, err := r.Execute("chat-api", func() (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn invoked while breaker open")
	}
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	r := testRegistry(3)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		r.Execute("chat-cli", func() (any, error) { return nil, boom })
	}
	r.Execute("chat-cli", func() (any, error) { return nil, nil })
	for i := 0; i < 2; i++ {
		r.Execute("chat-cli", func() (any, error) { return nil, boom })
	}

	if r.State("chat-cli") != "closed" {
		t.Errorf("state = %s, want closed after reset", r.State("chat-cli"))
	}
}

func TestState_UnknownBreaker(t *testing.T) {
	r := testRegistry(3)
	if r.State("never-used") != "closed" {
		t.Errorf("state = %s, want closed", r.State("never-used"))
	}
}

func TestExecute_BreakersAreIndependent(t *testing.T) {
	r := testRegistry(1)

	r.Execute("a", func() (any, error) { return nil, errors.New("boom") })
	if r.State("a") != "open" {
		t.Fatalf("breaker a state = %s", r.State("a"))
	}
	if r.State("b") != "closed" {
		t.Errorf("breaker b state = %s, want closed", r.State("b"))
	}
	if _, err := r.Execute("b", func() (any, error) { return "ok", nil }); err != nil {
		t.Errorf("breaker b rejected: %v", err)
	}
}
