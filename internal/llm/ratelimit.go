package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is the parsed detail of a detected rate-limit condition.
// Grounded on internal/budget/ratelimit.go's RateLimitInfo, trimmed of the
// session/weekly LimitType distinction (Nexus treats every limit as a
// single backoff-and-retry condition rather than tracking separate
// 5-hour/weekly billing windows, since it isn't wrapping Claude Code's own
// usage accounting).
type RateLimitInfo struct {
	DetectedAt time.Time
	ResetAt    time.Time
	RawMessage string
}

func (r *RateLimitInfo) TimeUntilReset() time.Duration {
	if r.ResetAt.IsZero() {
		return 0
	}
	return time.Until(r.ResetAt)
}

func (r *RateLimitInfo) IsExpired() bool {
	if r.ResetAt.IsZero() {
		return true
	}
	return time.Now().After(r.ResetAt)
}

var (
	retrySecondsPattern = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)`)
	rateLimitIndicator  = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|429|too.?many.?requests)`)
)

// ParseRateLimitFromError inspects an error message for rate-limit
// indicators, grounded on internal/budget/ratelimit.go's
// ParseRateLimitFromError. Returns nil when the message does not look
// like a rate limit at all.
func ParseRateLimitFromError(errMsg string) *RateLimitInfo {
	if errMsg == "" {
		return nil
	}
	if m := retrySecondsPattern.FindStringSubmatch(errMsg); m != nil {
		secs, err := strconv.Atoi(m[1])
		if err == nil {
			now := time.Now()
			return &RateLimitInfo{
				DetectedAt: now,
				ResetAt:    now.Add(time.Duration(secs) * time.Second),
				RawMessage: errMsg,
			}
		}
	}
	if rateLimitIndicator.MatchString(errMsg) {
		now := time.Now()
		return &RateLimitInfo{
			DetectedAt: now,
			ResetAt:    now.Add(60 * time.Second),
			RawMessage: errMsg,
		}
	}
	return nil
}

// WaiterLogger receives countdown updates while blocked on a rate limit.
type WaiterLogger interface {
	LogRateLimitCountdown(remaining, total time.Duration)
}

// Waiter blocks until a rate limit resets, announcing progress on an
// interval. Grounded on internal/budget/waiter.go's RateLimitWaiter,
// with the TTS-specific LogRateLimitAnnounce hook dropped (internal/tts
// was not carried forward — see DESIGN.md).
type Waiter struct {
	maxWait      time.Duration
	announceInt  time.Duration
	safetyBuffer time.Duration
	logger       WaiterLogger
}

func NewWaiter(maxWait, announceInterval, safetyBuffer time.Duration, logger WaiterLogger) *Waiter {
	return &Waiter{maxWait: maxWait, announceInt: announceInterval, safetyBuffer: safetyBuffer, logger: logger}
}

func (w *Waiter) ShouldWait(info *RateLimitInfo) bool {
	if info == nil {
		return false
	}
	return info.TimeUntilReset() <= w.maxWait
}

func (w *Waiter) TimeUntilResume(info *RateLimitInfo) time.Duration {
	if info == nil {
		return 0
	}
	if info.IsExpired() {
		return w.safetyBuffer
	}
	return info.TimeUntilReset() + w.safetyBuffer
}

func (w *Waiter) WaitForReset(ctx context.Context, info *RateLimitInfo) error {
	if info == nil {
		return nil
	}
	if info.IsExpired() {
		select {
		case <-time.After(w.safetyBuffer):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	totalWait := w.TimeUntilResume(info)
	endTime := time.Now().Add(totalWait)

	ticker := time.NewTicker(w.announceInt)
	defer ticker.Stop()

	if w.logger != nil {
		w.logger.LogRateLimitCountdown(totalWait, totalWait)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			remaining := endTime.Sub(now)
			if remaining <= 0 {
				return nil
			}
			if w.logger != nil {
				w.logger.LogRateLimitCountdown(remaining, totalWait)
			}
		case <-time.After(time.Until(endTime)):
			return nil
		}
	}
}

// classifyCLIError maps a raw CLI failure message to the typed error
// taxonomy in client.go.
func classifyCLIError(errMsg, output string) error {
	combined := errMsg + " " + output
	lower := strings.ToLower(combined)
	switch {
	case strings.Contains(lower, "not found") && strings.Contains(lower, "claude"):
		return &CLINotFoundError{Path: "claude"}
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") || strings.Contains(lower, "api key"):
		return &AuthenticationError{Detail: combined}
	case rateLimitIndicator.MatchString(combined):
		info := ParseRateLimitFromError(combined)
		resetIn := "unknown"
		if info != nil {
			resetIn = info.TimeUntilReset().String()
		}
		return &RateLimitError{Detail: combined, ResetIn: resetIn}
	default:
		return &CLIError{Detail: errMsg, Output: output}
	}
}
