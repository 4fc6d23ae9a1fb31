package executors

import (
	"context"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/flowpilot/flowpilot/common/models"
)

// DelayExecutor pauses the execution for a duration or until a wall-clock
// time.
type DelayExecutor struct{}

// NewDelayExecutor creates a delay executor
func NewDelayExecutor() *DelayExecutor {
	return &DelayExecutor{}
}

func (e *DelayExecutor) Type() string                  { return "delay" }
func (e *DelayExecutor) DefaultTimeout() time.Duration { return DefaultControlFlowTimeout }

// Execute waits for config.duration (suffixes s, m, h, d, fractions allowed)
// or until config.until (RFC 3339, or HH:MM interpreted as UTC, rolling to
// tomorrow when already past). A target already in the past skips the node.
// Cancellation during the wait skips the node and records the elapsed time.
func (e *DelayExecutor) Execute(ctx context.Context, node *models.Node, rc *Context) *models.NodeResult {
	started := time.Now().UTC()

	wait, err := e.resolveWait(node)
	if err != nil {
		return errorf(node, "%v", err)
	}

	if wait <= 0 {
		result := models.NewSuccessResult("target time already passed")
		result.SetData("skipped", true)
		result.SetData("waited_seconds", 0.0)
		return result.Stamp(started)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		result := models.NewSuccessResult(fmt.Sprintf("waited %s", wait.Round(time.Millisecond)))
		result.SetData("waited_seconds", wait.Seconds())
		return result.Stamp(started)
	case <-ctx.Done():
		elapsed := time.Since(started)
		result := models.NewSkippedResult("delay interrupted")
		result.SetData("cancelled", true)
		result.SetData("waited_seconds", elapsed.Seconds())
		return result.Stamp(started)
	}
}

func (e *DelayExecutor) resolveWait(node *models.Node) (time.Duration, error) {
	durationRaw, hasDuration := node.Config["duration"]
	until := node.ConfigString("until")

	switch {
	case hasDuration && until != "":
		return 0, fmt.Errorf("delay takes duration or until, not both")
	case hasDuration:
		return parseDuration(durationRaw)
	case until != "":
		target, err := parseUntil(until)
		if err != nil {
			return 0, err
		}
		return time.Until(target), nil
	default:
		return 0, fmt.Errorf("delay requires duration or until")
	}
}

// parseDuration accepts a bare number (seconds) or a duration string with
// day suffixes, e.g. "90s", "1.5h", "2d".
func parseDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid duration type %T", raw)
	}
}

// parseUntil accepts an RFC 3339 timestamp, a naive ISO datetime (taken as
// UTC), or a bare HH:MM[:SS] clock time in UTC. A clock time already past
// today rolls to tomorrow.
func parseUntil(s string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return at, nil
	}
	if at, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return at, nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		clock, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		now := time.Now().UTC()
		target := time.Date(now.Year(), now.Month(), now.Day(),
			clock.Hour(), clock.Minute(), clock.Second(), 0, time.UTC)
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target, nil
	}
	return time.Time{}, fmt.Errorf("invalid until %q: want RFC 3339 or HH:MM", s)
}
