package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/suPer8Hu/govchat/internal/common"
)

const maxSitemapDepth = 3

// SitemapEntry is one <url> of a urlset.
type SitemapEntry struct {
	URL     string
	LastMod *time.Time
}

type xmlLoc struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlLoc `xml:"url"`
}

type xmlIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []xmlLoc `xml:"sitemap"`
}

// PageFetcher is the part of Fetcher the sitemap reader needs.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

type SitemapReader struct {
	fetcher PageFetcher
	filter  *URLFilter
}

func NewSitemapReader(f PageFetcher, filter *URLFilter) *SitemapReader {
	if filter == nil {
		filter = NewURLFilter(nil, nil)
	}
	return &SitemapReader{fetcher: f, filter: filter}
}

// Read returns the filtered, de-duplicated page entries of a sitemap or a
// sitemap index, following nested indexes up to three levels.
func (r *SitemapReader) Read(ctx context.Context, sitemapURL string) ([]SitemapEntry, error) {
	seen := make(map[string]bool)
	var out []SitemapEntry
	if err := r.read(ctx, sitemapURL, 0, seen, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SitemapReader) read(ctx context.Context, sitemapURL string, depth int, seen map[string]bool, out *[]SitemapEntry) error {
	if depth >= maxSitemapDepth {
		return nil
	}
	page, err := r.fetcher.Fetch(ctx, sitemapURL)
	if err != nil {
		return err
	}
	urls, children, err := ParseSitemap(page.Body)
	if err != nil {
		return common.PermanentFetch("sitemap "+sitemapURL, err)
	}
	for _, e := range urls {
		if seen[e.URL] || !r.filter.Allow(e.URL) {
			continue
		}
		seen[e.URL] = true
		*out = append(*out, e)
	}
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.read(ctx, child, depth+1, seen, out); err != nil {
			return err
		}
	}
	return nil
}

// ParseSitemap decodes either a urlset or a sitemapindex document.
func ParseSitemap(body []byte) (urls []SitemapEntry, children []string, err error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, nil, err
	}
	switch root {
	case "urlset":
		var set xmlURLSet
		if err := xml.Unmarshal(body, &set); err != nil {
			return nil, nil, err
		}
		for _, u := range set.URLs {
			loc := strings.TrimSpace(u.Loc)
			if loc == "" {
				continue
			}
			urls = append(urls, SitemapEntry{URL: loc, LastMod: parseLastMod(u.LastMod)})
		}
		return urls, nil, nil
	case "sitemapindex":
		var idx xmlIndex
		if err := xml.Unmarshal(body, &idx); err != nil {
			return nil, nil, err
		}
		for _, s := range idx.Sitemaps {
			if loc := strings.TrimSpace(s.Loc); loc != "" {
				children = append(children, loc)
			}
		}
		return nil, children, nil
	}
	return nil, nil, fmt.Errorf("unexpected sitemap root <%s>", root)
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("no root element: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func parseLastMod(v string) *time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// DefaultExcludes drop forms, search pages, account areas, PDFs and anchors.
var DefaultExcludes = []string{
	`\.pdf$`, `/forms/`, `/formulaires/`, `/search`, `/rechercher`,
	`my-account`, `mon-dossier`, `#`,
}

// URLFilter keeps URLs that start with one of the include prefixes (any URL
// when there are none) and match no exclude pattern.
type URLFilter struct {
	include []string
	exclude []*regexp.Regexp
}

// NewURLFilter compiles exclude patterns. A nil exclude list means
// DefaultExcludes; invalid patterns are matched literally.
func NewURLFilter(include, exclude []string) *URLFilter {
	if exclude == nil {
		exclude = DefaultExcludes
	}
	f := &URLFilter{include: include}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			re = regexp.MustCompile(regexp.QuoteMeta(p))
		}
		f.exclude = append(f.exclude, re)
	}
	return f
}

func (f *URLFilter) Allow(u string) bool {
	if len(f.include) > 0 {
		ok := false
		for _, p := range f.include {
			if strings.HasPrefix(u, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, re := range f.exclude {
		if re.MatchString(u) {
			return false
		}
	}
	return true
}

// Dedupe drops repeated URLs, keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
