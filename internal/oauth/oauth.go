// internal/oauth/oauth.go

// Package oauth drives the begin/callback token-exchange protocol with the
// platform. BeginRequested -> CallbackReceived -> SessionPersisted, with a
// bounded offline->online second round-trip when online tokens are required.
package oauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopauth/internal/apiclient"
	"shopauth/internal/flow"
	"shopauth/internal/hooks"
	"shopauth/internal/metrics"
	"shopauth/internal/session"
	"shopauth/pkg/config"
	"shopauth/pkg/shop"
)

const stateCookieName = "shopauth_oauth_state"

// exchangeStep is the two-state sub-machine for layered token acquisition.
// stepOnline only ever follows a persisted stepOffline result, which bounds
// the flow to exactly one extra round-trip.
type exchangeStep int

const (
	stepOffline exchangeStep = iota
	stepOnline
)

// Orchestrator holds the collaborators of the begin/callback flow. All
// methods take the request explicitly; no ambient per-request state.
type Orchestrator struct {
	cfg       config.Config
	log       *zap.SugaredLogger
	store     session.Store
	exchanger Exchanger
	hooks     *hooks.Registry
	clients   *apiclient.Factory
	nonces    NonceCache
}

func NewOrchestrator(cfg config.Config, log *zap.SugaredLogger, store session.Store, ex Exchanger, reg *hooks.Registry, clients *apiclient.Factory, nonces NonceCache) *Orchestrator {
	if nonces == nil {
		nonces = NopNonceCache{}
	}
	return &Orchestrator{cfg: cfg, log: log, store: store, exchanger: ex, hooks: reg, clients: clients, nonces: nonces}
}

// AuthorizeURL builds the platform authorization URL for the shop.
func (o *Orchestrator) AuthorizeURL(d shop.Domain, online bool, state string) string {
	q := url.Values{}
	q.Set("client_id", o.cfg.APIKey)
	q.Set("scope", strings.Join(o.cfg.Scopes, ","))
	q.Set("redirect_uri", strings.TrimRight(o.cfg.AppURL, "/")+o.cfg.Routes.Callback)
	q.Set("state", state)
	if online {
		q.Set("grant_options[]", "per-user")
	}
	return fmt.Sprintf("https://%s/admin/oauth/authorize?%s", d, q.Encode())
}

// Begin issues the redirect that starts the authorization flow, setting the
// signed state cookie. When the request arrives from inside an iframe and the
// app is embedded, the redirect goes through the exit-iframe page instead of
// in-place (the platform blocks authorize inside frames).
func (o *Orchestrator) Begin(r *http.Request, d shop.Domain, online bool) *flow.Terminal {
	nonce := uuid.NewString()
	authorize := o.AuthorizeURL(d, online, nonce)

	var t *flow.Terminal
	if o.cfg.Embedded && r.Header.Get("Sec-Fetch-Dest") == "iframe" {
		q := url.Values{}
		q.Set("redirectUri", authorize)
		t = flow.Redirect(o.cfg.Routes.ExitIframe + "?" + q.Encode())
		metrics.Redirected.WithLabelValues("oauth_begin_exit_iframe").Inc()
	} else {
		t = flow.Redirect(authorize)
		metrics.Redirected.WithLabelValues("oauth_begin").Inc()
	}
	t.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    signNonce(nonce, o.cfg.APISecret),
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	return t
}

// Callback consumes the platform's redirect back to the app. Every outcome is
// terminal: a success redirect, a restarted begin flow (cookie loss), a 400
// (tampering), or a 500 (everything else).
func (o *Orchestrator) Callback(r *http.Request) *flow.Terminal {
	term, err := o.callback(r)
	if err == nil {
		return term
	}

	switch {
	case errors.Is(err, ErrCookieNotFound):
		metrics.CallbackFailed.WithLabelValues("cookie_not_found").Inc()
		d, ok := shop.Normalize(r.URL.Query().Get("shop"))
		if !ok {
			return flow.Problem(http.StatusBadRequest, "invalid-shop", "Invalid shop parameter", "the shop query parameter is not a valid shop domain")
		}
		o.log.Infow("oauth state cookie missing, restarting begin", "shop", d)
		return o.Begin(r, d, o.restartOnline(r, d))
	case errors.Is(err, ErrInvalidHMAC), errors.Is(err, ErrInvalidOAuth):
		metrics.CallbackFailed.WithLabelValues("invalid").Inc()
		o.log.Warnw("oauth callback rejected", "err", err)
		return flow.Problem(http.StatusBadRequest, "invalid-oauth-callback", "Invalid OAuth callback", "the callback request could not be verified")
	default:
		metrics.CallbackFailed.WithLabelValues("error").Inc()
		o.log.Errorw("oauth callback failed", "err", err)
		var re *apiclient.RemoteError
		if errors.As(err, &re) {
			return flow.Problem(re.Status, "platform-error", "Platform error", "")
		}
		return flow.Problem(http.StatusInternalServerError, "internal", "Internal error", "")
	}
}

func (o *Orchestrator) callback(r *http.Request) (*flow.Terminal, error) {
	ctx := r.Context()
	q := r.URL.Query()

	if !validHmac(q, o.cfg.APISecret) {
		return nil, ErrInvalidHMAC
	}
	d, ok := shop.Normalize(q.Get("shop"))
	if !ok {
		return nil, fmt.Errorf("%w: bad shop %q", ErrInvalidOAuth, q.Get("shop"))
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrCookieNotFound
	}
	nonce, ok := verifyNonce(cookie.Value, o.cfg.APISecret)
	if !ok || nonce != q.Get("state") {
		return nil, fmt.Errorf("%w: state mismatch", ErrInvalidOAuth)
	}
	if !o.nonces.Remember(ctx, nonce) {
		return nil, fmt.Errorf("%w: state replayed", ErrInvalidOAuth)
	}

	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidOAuth)
	}

	tok, err := o.exchanger.Exchange(ctx, d, code)
	if err != nil {
		return nil, err
	}

	rec := recordFromToken(d, tok)
	if err := o.store.Store(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	// two-step: offline landed but configuration requires online, so re-begin
	// for the online grant before the flow is considered complete
	if o.cfg.OnlineTokens && !rec.IsOnline {
		metrics.OAuthCompleted.WithLabelValues("offline").Inc()
		o.log.Infow("offline session persisted, requesting online token", "shop", d)
		return o.beginStep(r, d, stepOnline), nil
	}

	mode := "offline"
	if rec.IsOnline {
		mode = "online"
	}
	metrics.OAuthCompleted.WithLabelValues(mode).Inc()

	if err := o.hooks.Fire(ctx, rec, o.clients.ForSession(rec)); err != nil {
		return nil, fmt.Errorf("after-auth hook: %w", err)
	}

	t := o.successRedirect(d, q.Get("host"))
	clearStateCookie(t)
	return t, nil
}

func (o *Orchestrator) beginStep(r *http.Request, d shop.Domain, step exchangeStep) *flow.Terminal {
	return o.Begin(r, d, step == stepOnline)
}

// restartOnline decides the grant mode for a begin restarted after cookie
// loss: online only when an active offline record already exists.
func (o *Orchestrator) restartOnline(r *http.Request, d shop.Domain) bool {
	if !o.cfg.OnlineTokens {
		return false
	}
	offline, err := o.store.Load(r.Context(), session.OfflineID(d))
	return err == nil && offline.IsActive(session.Scopes(o.cfg.Scopes))
}

// successRedirect sends the browser into the platform admin surface for
// embedded apps (the host parameter carries the base64 wrapper location) or
// back to the app's own root otherwise.
func (o *Orchestrator) successRedirect(d shop.Domain, host string) *flow.Terminal {
	if o.cfg.Embedded && host != "" {
		if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(host, "=")); err == nil {
			return flow.Redirect(fmt.Sprintf("https://%s/apps/%s", string(decoded), o.cfg.APIKey))
		}
	}
	q := url.Values{}
	q.Set("shop", d.String())
	if host != "" {
		q.Set("host", host)
	}
	return flow.Redirect(strings.TrimRight(o.cfg.AppURL, "/") + "/?" + q.Encode())
}

func recordFromToken(d shop.Domain, tok *AccessToken) *session.Record {
	rec := &session.Record{
		Shop:        d,
		Scopes:      tok.Scopes,
		AccessToken: tok.Token,
		Expires:     tok.Expires,
	}
	if tok.User != nil {
		rec.IsOnline = true
		rec.User = tok.User
		rec.ID = session.OnlineID(d, tok.User.ID)
	} else {
		rec.ID = session.OfflineID(d)
	}
	return rec
}

func clearStateCookie(t *flow.Terminal) {
	t.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
}
