// Package retry wraps executor calls with classified retries and jittered
// exponential backoff. Permanent failures short-circuit after one attempt;
// a server-specified retry_after overrides the computed backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowpilot/flowpilot/common/models"
)

// Policy controls retry behavior for one node dispatch.
type Policy struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	ExponentialBase  float64
	Jitter           bool
	RetryOnTransient bool
	RetryOnResource  bool
}

// DefaultPolicy returns the workflow-level default: three attempts with one
// second initial backoff doubling up to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:      3,
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		ExponentialBase:  2.0,
		Jitter:           true,
		RetryOnTransient: true,
		RetryOnResource:  true,
	}
}

// PolicyFromConfig merges a per-node retry config over a base policy.
func PolicyFromConfig(cfg *models.RetryConfig, base Policy) Policy {
	if cfg == nil {
		return base
	}
	p := base
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = time.Duration(cfg.InitialDelay * float64(time.Second))
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = time.Duration(cfg.MaxDelay * float64(time.Second))
	}
	if cfg.ExponentialBase > 0 {
		p.ExponentialBase = cfg.ExponentialBase
	}
	if cfg.Jitter != nil {
		p.Jitter = *cfg.Jitter
	}
	if cfg.RetryOnTransient != nil {
		p.RetryOnTransient = *cfg.RetryOnTransient
	}
	if cfg.RetryOnResource != nil {
		p.RetryOnResource = *cfg.RetryOnResource
	}
	return p
}

// AttemptRecord captures one failed attempt for the result data.
type AttemptRecord struct {
	Attempt  int    `json:"attempt"`
	Error    string `json:"error"`
	Category string `json:"category"`
	DelayMS  int64  `json:"delay_ms"`
}

// ExecuteFunc produces a node result for one attempt.
type ExecuteFunc func(ctx context.Context) *models.NodeResult

// Execute invokes fn at most policy.MaxAttempts times, classifying each error
// result to decide whether another attempt is worthwhile. The final result
// carries data.total_attempts and, when any attempt failed, data.attempts.
// Cancellation during backoff aborts the wait immediately.
func Execute(ctx context.Context, policy Policy, fn ExecuteFunc) *models.NodeResult {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.MaxInterval = policy.MaxDelay
	bo.Multiplier = policy.ExponentialBase
	bo.MaxElapsedTime = 0
	if policy.Jitter {
		// uniform in [0.5*d, 1.5*d]
		bo.RandomizationFactor = 0.5
	} else {
		bo.RandomizationFactor = 0
	}
	bo.Reset()

	var attempts []AttemptRecord
	var result *models.NodeResult

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result = fn(ctx)
		if result.Status != models.ResultError {
			break
		}

		class := classifyResult(result)
		result.SetData("category", string(class.Category))

		record := AttemptRecord{
			Attempt:  attempt,
			Error:    result.ErrorMessage,
			Category: string(class.Category),
		}

		if attempt == policy.MaxAttempts || !shouldRetry(policy, class, attempt) || ctx.Err() != nil {
			attempts = append(attempts, record)
			break
		}

		delay := bo.NextBackOff()
		if ra := retryAfterHint(result, class); ra > 0 {
			delay = ra
		}
		record.DelayMS = delay.Milliseconds()
		attempts = append(attempts, record)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.SetData("cancelled", true)
			attempt = policy.MaxAttempts // no more attempts
		case <-timer.C:
		}
	}

	totalAttempts := len(attempts)
	if result.Status != models.ResultError {
		totalAttempts++
	}
	result.SetData("total_attempts", totalAttempts)
	if len(attempts) > 0 {
		result.SetData("attempts", attempts)
	}
	return result
}

func shouldRetry(policy Policy, class Classification, attempt int) bool {
	switch class.Category {
	case CategoryPermanent:
		return false
	case CategoryTransient:
		return policy.RetryOnTransient
	case CategoryResource:
		return policy.RetryOnResource
	default:
		// unknown failures get exactly one extra attempt
		return attempt < 2
	}
}

func classifyResult(result *models.NodeResult) Classification {
	// executors pre-classify some failures; trust their category
	if cat, ok := result.Data["category"].(string); ok {
		switch Category(cat) {
		case CategoryPermanent:
			return Classification{Category: CategoryPermanent, Retryable: false}
		case CategoryTransient:
			return Classification{Category: CategoryTransient, Retryable: true}
		case CategoryResource:
			return Classification{Category: CategoryResource, Retryable: true, RetryAfter: 60 * time.Second}
		}
	}
	if code, ok := result.Data["status_code"]; ok {
		if status, ok := toInt(code); ok {
			return ClassifyHTTPStatus(status)
		}
	}
	if code, ok := result.Data["exit_code"]; ok {
		if exit, ok := toInt(code); ok && exit != 0 {
			return ClassifyExit(exit, result.Stderr+" "+result.ErrorMessage)
		}
	}
	return ClassifyMessage(result.ErrorMessage)
}

func retryAfterHint(result *models.NodeResult, class Classification) time.Duration {
	if v, ok := result.Data["retry_after"]; ok {
		if secs, ok := toFloat(v); ok && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return class.RetryAfter
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
