package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ListingURL fills the {category}, {city} and {state} placeholders of tmpl
// with trimmed, lower-cased, path-escaped values.
func ListingURL(tmpl, city, state, category string) (string, error) {
	parts := map[string]string{
		"city":     city,
		"state":    state,
		"category": category,
	}
	pairs := make([]string, 0, len(parts)*2)
	for key, value := range parts {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			return "", fmt.Errorf("listing url: %s is required", key)
		}
		pairs = append(pairs, "{"+key+"}", url.PathEscape(value))
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)
	if _, err := url.Parse(out); err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	return out, nil
}

// ResolveLink resolves href against base and drops the fragment.
func ResolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	resolved := ref
	if base != nil {
		resolved = base.ResolveReference(ref)
	}
	resolved.Fragment = ""
	return resolved.String(), nil
}
