package ingest

import (
	"fmt"
	"os"

	"github.com/suPer8Hu/govchat/internal/common"
	"gopkg.in/yaml.v3"
)

// Sources lists what a full ingestion run crawls.
//
//	urls:
//	  - https://www.canada.ca/en/services/taxes.html
//	sitemaps:
//	  - https://www.canada.ca/en/revenue-agency.sitemap.xml
//	include:
//	  - https://www.canada.ca/en/revenue-agency/
//	exclude:
//	  - '/news/'
type Sources struct {
	URLs     []string `yaml:"urls" json:"urls,omitempty"`
	Sitemaps []string `yaml:"sitemaps" json:"sitemaps,omitempty"`
	Include  []string `yaml:"include" json:"include,omitempty"`
	Exclude  []string `yaml:"exclude" json:"exclude,omitempty"`
}

var taxURLsEN = []string{
	"https://www.canada.ca/en/services/taxes.html",
	"https://www.canada.ca/en/services/taxes/income-tax.html",
	"https://www.canada.ca/en/services/taxes/income-tax/personal-income-tax.html",
	"https://www.canada.ca/en/revenue-agency/services/tax/individuals/topics/about-your-tax-return.html",
	"https://www.canada.ca/en/revenue-agency/services/tax/individuals/topics/about-your-tax-return/tax-return/completing-a-tax-return/deductions-credits-expenses.html",
	"https://www.canada.ca/en/revenue-agency/services/child-family-benefits.html",
	"https://www.canada.ca/en/services/taxes/child-and-family-benefits.html",
	"https://www.canada.ca/en/revenue-agency/services/tax/businesses/topics/gst-hst-businesses.html",
}

var taxURLsFR = []string{
	"https://www.canada.ca/fr/services/impots.html",
	"https://www.canada.ca/fr/services/impots/impot-sur-le-revenu.html",
}

// DefaultSources is the built-in Canada.ca tax section, English then French.
func DefaultSources() *Sources {
	urls := make([]string, 0, len(taxURLsEN)+len(taxURLsFR))
	urls = append(urls, taxURLsEN...)
	urls = append(urls, taxURLsFR...)
	return &Sources{URLs: urls}
}

// LoadSources reads a sources file, or returns DefaultSources when path is
// empty.
func LoadSources(path string) (*Sources, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Configuration("sources", err)
	}
	return ParseSources(raw)
}

func ParseSources(raw []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, common.Configuration("sources", fmt.Errorf("parse: %w", err))
	}
	s.URLs = Dedupe(s.URLs)
	s.Sitemaps = Dedupe(s.Sitemaps)
	if len(s.URLs) == 0 && len(s.Sitemaps) == 0 {
		return nil, common.Configuration("sources", fmt.Errorf("no urls or sitemaps listed"))
	}
	return &s, nil
}

// Filter builds the URL filter for sitemap entries. An empty exclude list
// keeps the defaults.
func (s *Sources) Filter() *URLFilter {
	var exclude []string
	if len(s.Exclude) > 0 {
		exclude = append(append(exclude, DefaultExcludes...), s.Exclude...)
	}
	return NewURLFilter(s.Include, exclude)
}

// Request turns the source list into a full run.
func (s *Sources) Request(prune bool) Request {
	return Request{
		URLs:     s.URLs,
		Sitemaps: s.Sitemaps,
		Filter:   s.Filter(),
		Full:     true,
		Prune:    prune,
	}
}
