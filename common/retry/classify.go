package retry

import (
	"strings"
	"time"
)

// Category is the error taxonomy carried on every internal failure.
type Category string

const (
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryResource  Category = "resource"
	CategoryUnknown   Category = "unknown"
)

// Classification is the result of classifying a failure: its category,
// whether the caller should retry, and an optional server-specified wait.
type Classification struct {
	Category   Category
	Retryable  bool
	RetryAfter time.Duration // zero when the server gave no hint
}

var permanentMarkers = []string{
	"unauthorized", "forbidden", "authentication", "invalid api key",
	"not found", "validation", "invalid request", "bad request",
	"permission denied", "no executor registered",
}

var transientMarkers = []string{
	"timeout", "timed out", "deadline exceeded",
	"connection refused", "connection reset", "broken pipe",
	"network is unreachable", "no such host", "dns", "eof",
	"temporarily unavailable", "service unavailable",
}

var resourceMarkers = []string{
	"rate limit", "rate_limit", "too many requests", "quota", "overloaded",
}

// ClassifyMessage classifies a failure from its message text.
func ClassifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)

	for _, marker := range resourceMarkers {
		if strings.Contains(lower, marker) {
			return Classification{Category: CategoryResource, Retryable: true, RetryAfter: 60 * time.Second}
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return Classification{Category: CategoryTransient, Retryable: true}
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return Classification{Category: CategoryPermanent, Retryable: false}
		}
	}
	return Classification{Category: CategoryUnknown, Retryable: true}
}

// ClassifyHTTPStatus classifies a failure from an HTTP response status.
func ClassifyHTTPStatus(status int) Classification {
	switch {
	case status == 429:
		return Classification{Category: CategoryResource, Retryable: true, RetryAfter: 60 * time.Second}
	case status == 408:
		return Classification{Category: CategoryTransient, Retryable: true}
	case status >= 500:
		return Classification{Category: CategoryTransient, Retryable: true, RetryAfter: 30 * time.Second}
	case status >= 400:
		return Classification{Category: CategoryPermanent, Retryable: false}
	default:
		return Classification{Category: CategoryUnknown, Retryable: true}
	}
}

// ClassifyExit classifies a failure from a CLI exit code and stderr text.
// Exit 124 is the conventional timeout code.
func ClassifyExit(code int, stderr string) Classification {
	if code == 124 {
		return Classification{Category: CategoryTransient, Retryable: true}
	}
	return ClassifyMessage(stderr)
}
