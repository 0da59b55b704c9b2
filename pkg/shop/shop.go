// pkg/shop/shop.go
package shop

import (
	"regexp"
	"strings"
)

// DefaultSuffix is the platform's multi-tenant domain suffix appended to bare
// shop names ("test-shop" -> "test-shop.myshopify.com").
const DefaultSuffix = ".myshopify.com"

// Domain is a validated shop domain ("acme.myshopify.com"). The zero value is
// not valid; obtain one through Normalize.
type Domain string

func (d Domain) String() string { return string(d) }

// grammar: one or more alphanumeric/hyphen labels followed by the platform suffix.
var domainRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*(\.[a-zA-Z0-9][a-zA-Z0-9-]*)*\.myshopify\.(com|io)$`)

// Normalize strips any scheme, appends the canonical suffix when the input has
// no dot, and validates the result against the platform domain grammar.
// Malformed input returns ("", false); it never panics and never coerces bad
// input into a usable domain.
func Normalize(raw string) (Domain, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if !strings.Contains(s, ".") {
		s += DefaultSuffix
	}
	if !domainRe.MatchString(s) {
		return "", false
	}
	return Domain(strings.ToLower(s)), true
}

// FromHost validates an already-qualified host (no suffix defaulting). Used
// when the host comes from a verified token payload and must not be rewritten.
func FromHost(host string) (Domain, bool) {
	host = strings.TrimSpace(host)
	if host == "" || !domainRe.MatchString(host) {
		return "", false
	}
	return Domain(strings.ToLower(host)), true
}
