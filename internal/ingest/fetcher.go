package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxPageBytes = 10 << 20

// Page is a fetched HTML document.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

type FetcherConfig struct {
	Timeout    time.Duration
	UserAgent  string
	Delay      time.Duration
	MaxRetries int
}

// Fetcher downloads pages politely: requests to one origin are spaced by
// Delay and failures are classified so the pipeline knows what to retry.
type Fetcher struct {
	client    *http.Client
	userAgent string
	delay     time.Duration
	policy    retry.Policy
	log       *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func WithFetchRetryPolicy(p retry.Policy) FetcherOption {
	return func(f *Fetcher) { f.policy = p }
}

func WithFetchLogger(l *zap.Logger) FetcherOption {
	return func(f *Fetcher) { f.log = l }
}

func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Canada.ca-ChatBot/1.0"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	f := &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		delay:     cfg.Delay,
		policy:    retry.Policy{Attempts: cfg.MaxRetries + 1, Base: time.Second, Max: 30 * time.Second},
		log:       zap.NewNop(),
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) limiter(origin string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[origin]
	if !ok {
		limit := rate.Inf
		if f.delay > 0 {
			limit = rate.Every(f.delay)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[origin] = l
	}
	return l
}

// Fetch downloads rawURL. Errors are classified:
// TransientIO and RateLimited after retries ran out, PermanentFetch for
// 404/410 and other client errors, AccessBlocked for 401/403.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, common.InvalidInput("fetch", fmt.Errorf("bad url %q", rawURL))
	}
	lim := f.limiter(u.Scheme + "://" + u.Host)

	var page *Page
	attempt := 0
	err = retry.Do(ctx, f.policy, func(ctx context.Context) error {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		p, err := f.get(ctx, rawURL)
		if err != nil {
			if common.IsRetryable(err) {
				f.log.Warn("fetch failed, will retry",
					zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
			}
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, common.InvalidInput("fetch", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-CA,en;q=0.9,fr-CA;q=0.8,fr;q=0.7")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, common.TransientIO("fetch "+rawURL, err)
	}
	defer resp.Body.Close()

	if err := classifyFetch(rawURL, resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, common.TransientIO("read "+rawURL, err)
	}
	return &Page{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func classifyFetch(rawURL string, resp *http.Response) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}
	op := "fetch " + rawURL
	err := fmt.Errorf("status %d", status)
	switch {
	case status == http.StatusTooManyRequests:
		return common.RateLimited(op, err, retry.ParseAfter(resp.Header.Get("Retry-After")))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return common.AccessBlocked(op, err)
	case status >= 500 || status == http.StatusRequestTimeout:
		return common.TransientIO(op, err)
	default:
		return common.PermanentFetch(op, err)
	}
}
