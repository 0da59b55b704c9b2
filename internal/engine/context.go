// internal/engine/context.go
package engine

import (
	"context"
	"net/http"
	"net/url"

	"shopauth/internal/apiclient"
	"shopauth/internal/flow"
	"shopauth/internal/session"
	"shopauth/internal/sessiontoken"
)

// Mode discriminates the two context shapes. Embedded contexts additionally
// carry the raw session token and an iframe-aware redirect helper; the fields
// only valid for one mode are nil in the other.
type Mode int

const (
	NonEmbedded Mode = iota
	Embedded
)

// Context is the per-request result of a successful authentication decision.
// It lives for the duration of one request.
type Context struct {
	Mode    Mode
	Session *session.Record

	// Token is the verified session token; Embedded mode only.
	Token *sessiontoken.Payload
	// RawToken is the compact token string, for forwarding; Embedded only.
	RawToken string

	// Billing is the external billing subsystem's per-session view; nil when
	// the integrator registered no billing factory.
	Billing BillingContext

	clients    *apiclient.Factory
	attachCORS func(http.Header, string)
	exitIframe string
}

// BillingContext is the boundary to the external billing subsystem.
type BillingContext interface {
	RequiresPayment(ctx context.Context, rec *session.Record) (bool, error)
}

// BillingFactory builds the billing view for a confirmed session.
type BillingFactory func(rec *session.Record, client *apiclient.Client) BillingContext

// APIClient returns a platform client bound to the confirmed session.
func (c *Context) APIClient() *apiclient.Client {
	return c.clients.ForSession(c.Session)
}

// AttachCORS applies the guard's CORS headers; also used on error responses
// before they reach the client.
func (c *Context) AttachCORS(h http.Header, origin string) {
	if c.attachCORS != nil {
		c.attachCORS(h, origin)
	}
}

// Redirect builds a redirect bound to embedding rules: inside an iframe a
// target that must render outside (absolute URL on a foreign host) routes
// through the platform's top-level navigation; everything else is a plain 302.
func (c *Context) Redirect(r *http.Request, target string) *flow.Terminal {
	if c.Mode != Embedded {
		return flow.Redirect(target)
	}
	u, err := url.Parse(target)
	if err != nil {
		return flow.Redirect("/")
	}
	if u.Host != "" && u.Host != r.Host {
		// escape the iframe for off-app destinations
		q := url.Values{}
		q.Set("redirectUri", target)
		return flow.Redirect(c.exitIframe + "?" + q.Encode())
	}
	return flow.Redirect(target)
}

type ctxKey struct{}

// WithContext stores the auth context on the request context.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the auth context placed by the engine middleware, or
// nil when the request did not pass authentication.
func FromContext(ctx context.Context) *Context {
	if v := ctx.Value(ctxKey{}); v != nil {
		if ac, ok := v.(*Context); ok {
			return ac
		}
	}
	return nil
}
