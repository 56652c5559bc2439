// Package parse extracts listing links and business details from fetched
// HTML using goquery.
package parse

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Class names used on detail pages.
const (
	nameClass       = "name-selector"
	streetClass     = "street-address-selector"
	cityClass       = "city-selector"
	stateClass      = "state-selector"
	zipCodeClass    = "zip-code-selector"
	phoneClass      = "phone-number-selector"
	emailClass      = "email-selector"
	websiteClass    = "website-url-selector"
	categoriesClass = "categories-selector"
	categoryClass   = "category-selector"
)

// ListingLinks returns the unique absolute URLs of anchors on a listing page
// whose href contains marker. Relative hrefs are resolved against pageURL.
// The result is sorted so callers see a stable order.
func ListingLinks(html, pageURL, marker string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, marker) {
			return
		}
		link, err := crawler.ResolveLink(base, href)
		if err != nil {
			return
		}
		seen[link] = struct{}{}
	})

	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links, nil
}

// Detail extracts business attributes from a detail page. Each scalar field
// is optional. A page without the categories container is treated as not
// rendered and yields an *crawler.ExtractionError.
func Detail(html, pageURL string) (crawler.Details, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.Details{}, &crawler.ExtractionError{URL: pageURL, Reason: err.Error()}
	}

	container := doc.Find("div." + categoriesClass).First()
	if container.Length() == 0 {
		return crawler.Details{}, &crawler.ExtractionError{URL: pageURL, Reason: "categories container not found"}
	}
	categories := make([]string, 0)
	container.Find("div." + categoryClass).Each(func(_ int, s *goquery.Selection) {
		categories = append(categories, strings.TrimSpace(s.Text()))
	})

	return crawler.Details{
		Name:       divText(doc, nameClass),
		Street:     divText(doc, streetClass),
		City:       divText(doc, cityClass),
		State:      divText(doc, stateClass),
		ZipCode:    divText(doc, zipCodeClass),
		Phone:      divText(doc, phoneClass),
		Email:      divText(doc, emailClass),
		Website:    divText(doc, websiteClass),
		Categories: categories,
	}, nil
}

// divText returns the trimmed text of the first div with class, or nil.
func divText(doc *goquery.Document, class string) *string {
	sel := doc.Find("div." + class).First()
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	return &text
}
