// internal/session/session.go
package session

import (
	"strings"
	"time"

	"shopauth/pkg/shop"
)

// Scopes is a granted or required access-scope set.
type Scopes []string

// ParseScopes splits a comma-separated scope string as returned by the
// platform token endpoint.
func ParseScopes(s string) Scopes {
	var out Scopes
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s Scopes) String() string { return strings.Join(s, ",") }

// Covers reports whether s is a superset of required. An empty required set
// is always covered.
func (s Scopes) Covers(required Scopes) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(s))
	for _, g := range s {
		set[g] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// AssociatedUser identifies the platform user an online token is bound to.
type AssociatedUser struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Record is one granted access credential for a shop (offline) or a
// shop+user pair (online). Records are replaced wholesale by a new token
// exchange, never partially updated.
type Record struct {
	ID          string          `json:"id"`
	Shop        shop.Domain     `json:"shop"`
	IsOnline    bool            `json:"is_online"`
	Scopes      Scopes          `json:"scopes"`
	AccessToken string          `json:"access_token"`
	Expires     *time.Time      `json:"expires,omitempty"`
	User        *AssociatedUser `json:"user,omitempty"`
}

// OfflineID derives the deterministic store key for a shop's offline record.
func OfflineID(d shop.Domain) string { return "offline_" + d.String() }

// OnlineID derives the store key for a shop+user online record.
func OnlineID(d shop.Domain, subject string) string { return d.String() + "_" + subject }

// IsActive reports whether the record still authorizes the required scopes:
// the token must be present, unexpired, and granted scopes must cover the
// required set.
func (r *Record) IsActive(required Scopes) bool {
	if r == nil || r.AccessToken == "" {
		return false
	}
	if r.Expires != nil && !time.Now().Before(*r.Expires) {
		return false
	}
	return r.Scopes.Covers(required)
}
