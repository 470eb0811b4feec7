// Package htmlsource implements a generic CSS-selector listing source.
// Anything site-specific beyond URL shape, link selector and ID pattern
// stays out of the crawl core.
package htmlsource

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kmilewski/listing-crawler/internal/discover"
)

// Config describes one listing site.
type Config struct {
	// Name labels the source in sink rows and checkpoint file names.
	Name string `mapstructure:"name"`
	// URLTemplate builds listing page URLs; placeholders {city}, {deal},
	// {kind} and {page} are substituted per unit and page.
	URLTemplate string `mapstructure:"url_template"`
	// FirstPageURL, when set, replaces the template on page 1. Listing
	// sites commonly serve page 1 at the bare URL without the page param.
	FirstPageURL string `mapstructure:"first_page_url"`
	// LinkSelector is the CSS selector matching item anchors.
	LinkSelector string `mapstructure:"link_selector"`
	// IDPattern extracts the stable item ID from an item URL (optional).
	IDPattern string `mapstructure:"id_pattern"`
}

// Source builds page URLs from the template and harvests item links with
// goquery. It implements discover.Source.
type Source struct {
	cfg  Config
	idRe *regexp.Regexp
}

// New validates the config and compiles the ID pattern.
func New(cfg Config) (*Source, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if !strings.Contains(cfg.URLTemplate, "{page}") {
		return nil, fmt.Errorf("url_template must contain a {page} placeholder")
	}
	if cfg.LinkSelector == "" {
		return nil, fmt.Errorf("link_selector is required")
	}
	var idRe *regexp.Regexp
	if cfg.IDPattern != "" {
		re, err := regexp.Compile(cfg.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("compile id_pattern: %w", err)
		}
		idRe = re
	}
	return &Source{cfg: cfg, idRe: idRe}, nil
}

// Name returns the source label.
func (s *Source) Name() string { return s.cfg.Name }

// PageURL renders the listing URL for the unit and page.
func (s *Source) PageURL(unit discover.Unit, page int) string {
	tmpl := s.cfg.URLTemplate
	if page == 1 && s.cfg.FirstPageURL != "" {
		tmpl = s.cfg.FirstPageURL
	}
	r := strings.NewReplacer(
		"{city}", url.PathEscape(unit.City),
		"{deal}", url.PathEscape(unit.Deal),
		"{kind}", url.PathEscape(unit.Kind),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(tmpl)
}

// Extract harvests item links from the page body. Hrefs resolve against the
// page URL; anchors without an href are skipped. The function is pure.
func (s *Source) Extract(body []byte, pageURL string) ([]discover.ItemRef, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var refs []discover.ItemRef
	doc.Find(s.cfg.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(u).String()
		refs = append(refs, discover.ItemRef{
			URL:    abs,
			ItemID: s.itemID(abs),
		})
	})
	return refs, nil
}

func (s *Source) itemID(itemURL string) string {
	if s.idRe == nil {
		return ""
	}
	return s.idRe.FindString(itemURL)
}
