package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/suPer8Hu/govchat/internal/ai"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/knowledge"
	"github.com/suPer8Hu/govchat/internal/metrics"
	"go.uber.org/zap"
)

// DocumentStore is what the pipeline reads and bumps in the document table.
type DocumentStore interface {
	HashLookup
	CrawlState(ctx context.Context, url string) (knowledge.CrawlState, bool, error)
	MarkCrawled(ctx context.Context, url string, at time.Time) error
	URLs(ctx context.Context) ([]string, error)
	DeleteByURL(ctx context.Context, url string) error
}

type Indexer interface {
	Replace(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk) (knowledge.ReplaceResult, error)
}

// Request describes one ingestion run. Full marks a run over the complete
// source list, which is the only kind allowed to report and prune missing
// pages.
type Request struct {
	URLs     []string
	Sitemaps []string
	Filter   *URLFilter
	Full     bool
	Prune    bool
}

type Failure struct {
	URL   string      `json:"url"`
	Kind  common.Kind `json:"kind"`
	Error string      `json:"error"`
}

type Summary struct {
	Total     int       `json:"total"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Unchanged int       `json:"unchanged"`
	Failed    int       `json:"failed"`
	Chunks    int       `json:"chunks"`
	Flagged   []string  `json:"flagged,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
	Missing   []string  `json:"missing,omitempty"`
	Pruned    int       `json:"pruned"`
	Duration  string    `json:"duration"`
}

type target struct {
	url     string
	lastMod *time.Time
}

type Pipeline struct {
	fetcher   PageFetcher
	extractor *Extractor
	detector  *ChangeDetector
	chunker   *Chunker
	embedder  ai.Embedder
	store     DocumentStore
	index     Indexer
	locker    Locker

	workers int
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Deps struct {
	Fetcher   PageFetcher
	Extractor *Extractor
	Chunker   *Chunker
	Embedder  ai.Embedder
	Store     DocumentStore
	Index     Indexer
	Locker    Locker
	Workers   int
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

func NewPipeline(d Deps) *Pipeline {
	if d.Workers <= 0 {
		d.Workers = 4
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Locker == nil {
		d.Locker = NewLocalLocker()
	}
	if d.Extractor == nil {
		d.Extractor = NewExtractor("")
	}
	return &Pipeline{
		fetcher:   d.Fetcher,
		extractor: d.Extractor,
		detector:  NewChangeDetector(d.Store),
		chunker:   d.Chunker,
		embedder:  d.Embedder,
		store:     d.Store,
		index:     d.Index,
		locker:    d.Locker,
		workers:   d.Workers,
		log:       d.Logger,
		metrics:   d.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type outcome string

const (
	outcomeCreated   outcome = "created"
	outcomeUpdated   outcome = "updated"
	outcomeUnchanged outcome = "unchanged"
	outcomeFailed    outcome = "failed"
)

type result struct {
	url     string
	outcome outcome
	chunks  int
	err     error
}

// Run ingests every page of req. One page failing never stops the batch;
// cancelling ctx stops handing out new pages and Run returns what finished
// together with the context error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Summary, error) {
	start := time.Now()
	sum := &Summary{}

	targets, sitemapFailed := p.collect(ctx, req, sum)
	sum.Total = len(targets)

	jobs := make(chan target)
	results := make(chan result, p.workers)

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for t := range jobs {
				began := time.Now()
				r := p.process(ctx, t)
				p.metrics.IngestURL(string(r.outcome), time.Since(began))
				results <- r
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range targets {
			select {
			case <-ctx.Done():
				return
			case jobs <- t:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		sum.add(r)
	}

	if err := ctx.Err(); err != nil {
		sum.Duration = time.Since(start).Round(time.Millisecond).String()
		return sum, err
	}

	if req.Full {
		if sitemapFailed {
			p.log.Warn("skipping missing-page report, a sitemap could not be read")
		} else if err := p.reportMissing(ctx, req, targets, sum); err != nil {
			p.log.Error("missing-page report failed", zap.Error(err))
		}
	}

	sum.Duration = time.Since(start).Round(time.Millisecond).String()
	p.log.Info("ingestion finished",
		zap.Int("total", sum.Total),
		zap.Int("created", sum.Created),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("failed", sum.Failed),
		zap.Int("chunks", sum.Chunks),
		zap.Int("missing", len(sum.Missing)),
		zap.String("took", sum.Duration),
	)
	return sum, nil
}

func (s *Summary) add(r result) {
	switch r.outcome {
	case outcomeCreated:
		s.Created++
	case outcomeUpdated:
		s.Updated++
	case outcomeUnchanged:
		s.Unchanged++
	case outcomeFailed:
		s.Failed++
		kind := common.KindOf(r.err)
		if kind == common.KindAccessBlocked {
			s.Flagged = append(s.Flagged, r.url)
		}
		s.Failures = append(s.Failures, Failure{URL: r.url, Kind: kind, Error: r.err.Error()})
	}
	s.Chunks += r.chunks
}

func (p *Pipeline) collect(ctx context.Context, req Request, sum *Summary) ([]target, bool) {
	seen := make(map[string]bool)
	var out []target
	for _, u := range Dedupe(req.URLs) {
		seen[u] = true
		out = append(out, target{url: u})
	}

	failed := false
	if len(req.Sitemaps) > 0 {
		reader := NewSitemapReader(p.fetcher, req.Filter)
		for _, sm := range Dedupe(req.Sitemaps) {
			entries, err := reader.Read(ctx, sm)
			if err != nil {
				failed = true
				p.log.Warn("sitemap read failed", zap.String("sitemap", sm), zap.Error(err))
				sum.Failures = append(sum.Failures, Failure{URL: sm, Kind: common.KindOf(err), Error: err.Error()})
				continue
			}
			for _, e := range entries {
				if seen[e.URL] {
					continue
				}
				seen[e.URL] = true
				out = append(out, target{url: e.URL, lastMod: e.LastMod})
			}
		}
	}
	return out, failed
}

func (p *Pipeline) process(ctx context.Context, t target) (r result) {
	r.url = t.url
	log := p.log.With(zap.String("url", t.url))
	fail := func(err error) result {
		log.Warn("page failed", zap.String("kind", string(common.KindOf(err))), zap.Error(err))
		return result{url: t.url, outcome: outcomeFailed, err: err}
	}

	if t.lastMod != nil {
		st, found, err := p.store.CrawlState(ctx, t.url)
		if err != nil {
			return fail(err)
		}
		if found && st.LastCrawledAt != nil && !t.lastMod.After(*st.LastCrawledAt) {
			log.Debug("not modified since last crawl")
			r.outcome = outcomeUnchanged
			return r
		}
	}

	page, err := p.fetcher.Fetch(ctx, t.url)
	if err != nil {
		return fail(err)
	}
	ex, err := p.extractor.Extract(t.url, page.Body)
	if err != nil {
		return fail(err)
	}

	changed, err := p.detector.ShouldUpdate(ctx, t.url, ex.Text)
	if err != nil {
		return fail(err)
	}
	if !changed {
		if err := p.store.MarkCrawled(ctx, t.url, p.now()); err != nil {
			return fail(err)
		}
		r.outcome = outcomeUnchanged
		return r
	}

	texts := Collect(p.chunker.Chunk(ex.Text))
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return fail(err)
	}
	if len(vectors) != len(texts) {
		return fail(fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts)))
	}

	release, err := p.locker.Lock(ctx, t.url)
	if err != nil {
		return fail(err)
	}
	defer release()

	// another worker may have written this page while we were embedding
	changed, err = p.detector.ShouldUpdate(ctx, t.url, ex.Text)
	if err != nil {
		return fail(err)
	}
	if !changed {
		if err := p.store.MarkCrawled(ctx, t.url, p.now()); err != nil {
			return fail(err)
		}
		r.outcome = outcomeUnchanged
		return r
	}

	doc := &knowledge.Document{
		URL:         t.url,
		Title:       ex.Title,
		Content:     ex.Text,
		ContentHash: ContentHash(ex.Text),
		Language:    ex.Language,
		Metadata:    ex.Metadata,
	}
	chunks := make([]knowledge.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = knowledge.Chunk{
			Content:   text,
			Language:  ex.Language,
			Embedding: vectors[i],
			Metadata: map[string]any{
				"url":          t.url,
				"title":        ex.Title,
				"chunk_index":  i,
				"total_chunks": len(texts),
			},
		}
	}

	res, err := p.index.Replace(ctx, doc, chunks)
	if err != nil {
		return fail(err)
	}
	switch res {
	case knowledge.Created:
		r.outcome = outcomeCreated
	case knowledge.Updated:
		r.outcome = outcomeUpdated
	default:
		r.outcome = outcomeUnchanged
		return r
	}
	r.chunks = len(chunks)
	log.Info("page indexed", zap.String("result", string(res)), zap.Int("chunks", r.chunks), zap.String("language", ex.Language))
	return r
}

// reportMissing lists stored pages that the run no longer saw. Pages are only
// deleted when the request asks for pruning.
func (p *Pipeline) reportMissing(ctx context.Context, req Request, targets []target, sum *Summary) error {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.url] = true
	}
	stored, err := p.store.URLs(ctx)
	if err != nil {
		return err
	}
	for _, u := range stored {
		if seen[u] {
			continue
		}
		if req.Filter != nil && !req.Filter.Allow(u) {
			continue
		}
		sum.Missing = append(sum.Missing, u)
	}
	if !req.Prune {
		return nil
	}
	var errs []error
	for _, u := range sum.Missing {
		if err := p.store.DeleteByURL(ctx, u); err != nil && !common.IsKind(err, common.KindNotFound) {
			errs = append(errs, fmt.Errorf("prune %s: %w", u, err))
			continue
		}
		sum.Pruned++
		p.log.Info("pruned missing page", zap.String("url", u))
	}
	return errors.Join(errs...)
}
