package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
)

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(4), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return common.TransientIO("op", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return common.ProviderRejection("op", errors.New("policy"))
	})
	if !common.IsKind(err, common.KindProviderRejection) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent errors must not be retried, got %d calls", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return common.RateLimited("op", nil, 0)
	})
	if !common.IsRetryable(err) {
		t.Fatalf("expected the last retryable error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, fastPolicy(3), func(ctx context.Context) error {
		t.Fatalf("fn must not run on a cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelay_Bounded(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond}
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Delay(attempt)
		if d <= 0 || d > 40*time.Millisecond {
			t.Fatalf("attempt %d: delay %s out of bounds", attempt, d)
		}
	}
}

func TestParseAfter(t *testing.T) {
	if got := ParseAfter("3"); got != 3*time.Second {
		t.Fatalf("seconds: got %v", got)
	}
	for _, v := range []string{"", "0", "-2", "soon", "Wed, 21 Oct 2015 07:28:00 GMT"} {
		if got := ParseAfter(v); got != 0 {
			t.Fatalf("%q: expected 0, got %v", v, got)
		}
	}
}
