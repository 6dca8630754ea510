// Package retry runs operations under bounded exponential backoff with jitter.
package retry

import (
	"context"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
)

type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func DefaultPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: 200 * time.Millisecond, Max: 5 * time.Second}
}

// Delay returns the full-jitter sleep before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = 5 * time.Second
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << attempt
	if d <= 0 || d > ceiling {
		d = ceiling
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// Do calls fn until it succeeds, returns an error that IsRetryable rejects,
// or the attempts are used up. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil || !common.IsRetryable(err) || attempt == attempts-1 {
			return err
		}

		wait := p.Delay(attempt)
		if ra := common.RetryAfterOf(err); ra > wait {
			wait = ra
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// ParseAfter reads a Retry-After header given in seconds or as an HTTP date.
// Missing or past values yield zero.
func ParseAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
