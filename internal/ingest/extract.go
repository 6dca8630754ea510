package ingest

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/suPer8Hu/govchat/internal/common"
	"github.com/suPer8Hu/govchat/internal/lang"
)

// minRootRunes is the amount of text below which the selected content root
// is considered broken and readability gets a try.
const minRootRunes = 200

var noiseSelectors = []string{
	"script", "style", "noscript", "nav", "header", "footer",
	".gcweb-menu", ".wb-gcslb", "#wb-bc", ".pagedetails", ".noprint", ".wb-inv", ".mfp-hide",
}

var rootSelectors = []string{"main", "article", ".mwsgeneric-base-html", "#wb-main"}

// block elements get a line break after their text so paragraphs survive
var blockSelector = "p, li, h1, h2, h3, h4, h5, h6, div, section, tr, dd, dt, blockquote, pre, br"

var (
	spaceRun = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRun = regexp.MustCompile(`\n{3,}`)
)

type Extracted struct {
	Title    string
	Text     string
	Language string
	Metadata map[string]any
}

type Extractor struct {
	defaultLanguage string
}

func NewExtractor(defaultLanguage string) *Extractor {
	if defaultLanguage == "" {
		defaultLanguage = lang.English
	}
	return &Extractor{defaultLanguage: defaultLanguage}
}

// Extract turns a Canada.ca page into clean text. Empty pages are a
// PermanentFetch error since retrying will not produce content.
func (e *Extractor) Extract(pageURL string, body []byte) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, common.PermanentFetch("extract "+pageURL, err)
	}

	out := &Extracted{Metadata: map[string]any{"source": pageURL}}
	if d, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(d) != "" {
		out.Metadata["description"] = strings.TrimSpace(d)
	}
	if m, ok := doc.Find(`meta[name="dcterms.modified"]`).Attr("content"); ok && strings.TrimSpace(m) != "" {
		out.Metadata["modified"] = strings.TrimSpace(m)
	}
	htmlLang, _ := doc.Find("html").Attr("lang")

	out.Title = pageTitle(doc)

	doc.Find(strings.Join(noiseSelectors, ", ")).Remove()

	root := contentRoot(doc)
	out.Text = NormalizeWhitespace(blockText(root))

	if utf8.RuneCountInString(out.Text) < minRootRunes {
		if title, text := readabilityText(body, pageURL); utf8.RuneCountInString(text) > utf8.RuneCountInString(out.Text) {
			out.Text = text
			out.Metadata["extractor"] = "readability"
			if out.Title == "" {
				out.Title = title
			}
		}
	}
	if out.Text == "" {
		return nil, common.PermanentFetch("extract "+pageURL, errors.New("page has no text content"))
	}
	if out.Title == "" {
		out.Title = pageURL
	}

	out.Language = e.language(pageURL, htmlLang, out.Text)
	return out, nil
}

func (e *Extractor) language(pageURL, htmlLang, text string) string {
	if l, ok := lang.FromURL(pageURL); ok {
		return l
	}
	if l := lang.Normalize(htmlLang); l == lang.English || l == lang.French {
		return l
	}
	if l, ok := lang.Detect(text); ok {
		return l
	}
	return e.defaultLanguage
}

func pageTitle(doc *goquery.Document) string {
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return NormalizeWhitespace(h1)
	}
	t := strings.TrimSpace(doc.Find("title").First().Text())
	t = strings.TrimSuffix(t, " - Canada.ca")
	return NormalizeWhitespace(t)
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range rootSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("body")
}

func blockText(s *goquery.Selection) string {
	s.Find(blockSelector).Each(func(_ int, b *goquery.Selection) {
		b.AfterHtml("\n")
	})
	return s.Text()
}

func readabilityText(body []byte, pageURL string) (title, text string) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), NormalizeWhitespace(article.TextContent)
}

// NormalizeWhitespace collapses runs of spaces, trims every line and keeps at
// most one blank line between paragraphs. Hashes are computed on its output.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
