package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/retry"
)

// statusError converts a non-2xx provider response into a classified error.
// The body is read up to 4 KB for the message.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return classifyStatus(op, resp.StatusCode, retry.ParseAfter(resp.Header.Get("Retry-After")), errors.New(msg))
}

func classifyStatus(op string, status int, wait time.Duration, err error) error {
	switch {
	case status == http.StatusTooManyRequests:
		return common.RateLimited(op, err, wait)
	case status >= 500 || status == http.StatusRequestTimeout:
		return common.TransientIO(op, err)
	case status >= 400:
		return common.ProviderRejection(op, err)
	}
	return fmt.Errorf("%s: unexpected status %d: %w", op, status, err)
}

// transportError classifies errors returned by http.Client.Do.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	// timeouts, resets and refused connections are all worth another try
	return common.TransientIO(op, err)
}
