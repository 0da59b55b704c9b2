// internal/engine/engine.go

// Package engine is the top-level per-request authentication state machine.
// Every inbound request passes the bot guard, then route dispatch (bounce,
// exit-iframe, login, begin, callback are terminal matches), then credential
// resolution: a session token when present, the shop/host parameter branch
// otherwise. The outcome is either a validated *Context or a *flow.Terminal;
// terminals propagate unchanged up to the serving boundary.
package engine

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"shopauth/internal/apiclient"
	"shopauth/internal/botguard"
	"shopauth/internal/embedded"
	"shopauth/internal/flow"
	"shopauth/internal/metrics"
	"shopauth/internal/oauth"
	"shopauth/internal/session"
	"shopauth/internal/sessiontoken"
	"shopauth/pkg/config"
	"shopauth/pkg/shop"
)

type Engine struct {
	cfg     config.Config
	log     *zap.SugaredLogger
	store   session.Store
	tokens  *sessiontoken.Validator
	oauth   *oauth.Orchestrator
	embed   *embedded.Controller
	guard   *botguard.Guard
	clients *apiclient.Factory
	billing BillingFactory
}

func New(cfg config.Config, log *zap.SugaredLogger, store session.Store, tokens *sessiontoken.Validator, orch *oauth.Orchestrator, embed *embedded.Controller, guard *botguard.Guard, clients *apiclient.Factory) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log,
		store:   store,
		tokens:  tokens,
		oauth:   orch,
		embed:   embed,
		guard:   guard,
		clients: clients,
	}
}

// WithBilling registers the external billing subsystem factory.
func (e *Engine) WithBilling(f BillingFactory) *Engine {
	e.billing = f
	return e
}

// Handle runs the full decision for one request. Exactly one of the returns
// is non-nil: a validated context, or a terminal response. Unexpected errors
// are already folded into a generic 500 terminal (detail logged server-side).
func (e *Engine) Handle(r *http.Request) (*Context, *flow.Terminal) {
	if term := e.guard.Check(r); term != nil {
		metrics.BotRejected.Inc()
		return nil, term
	}
	if term := e.dispatch(r); term != nil {
		return nil, term
	}

	ac, term, err := e.authenticate(r)
	if err != nil {
		e.log.Errorw("authentication failed", "path", r.URL.Path, "err", err)
		return nil, flow.Problem(http.StatusInternalServerError, "internal", "Internal error", "")
	}
	if term != nil {
		return nil, term
	}
	metrics.Authenticated.Inc()
	return ac, nil
}

// dispatch resolves the configured auth routes; all five matches are
// terminal.
func (e *Engine) dispatch(r *http.Request) *flow.Terminal {
	switch r.URL.Path {
	case e.cfg.Routes.Bounce:
		return e.embed.BouncePage()
	case e.cfg.Routes.ExitIframe:
		return e.embed.ExitIframePage(r)
	case e.cfg.Routes.Login:
		return e.login(r)
	case e.cfg.Routes.Begin:
		return e.begin(r)
	case e.cfg.Routes.Callback:
		return e.oauth.Callback(r)
	}
	return nil
}

// login is the form helper: it sanitizes the shop value and redirects into
// the begin flow. A missing shop is a structured validation failure; an
// invalid one redirects back to the login page. The two are deliberately
// distinct recovery targets.
func (e *Engine) login(r *http.Request) *flow.Terminal {
	raw := r.URL.Query().Get("shop")
	if raw == "" {
		raw = r.PostFormValue("shop")
	}
	if raw == "" {
		return flow.Problem(http.StatusBadRequest, "missing-shop", "Missing shop parameter", "a shop domain is required to sign in")
	}
	d, ok := shop.Normalize(raw)
	if !ok || !e.shopAllowed(d) {
		metrics.Redirected.WithLabelValues("login_invalid_shop").Inc()
		return flow.Redirect(e.cfg.Routes.Login)
	}
	return flow.Redirect(e.cfg.Routes.Begin + "?shop=" + d.String())
}

func (e *Engine) shopAllowed(d shop.Domain) bool {
	if len(e.cfg.ShopAllowlist) == 0 {
		return true
	}
	for _, a := range e.cfg.ShopAllowlist {
		if strings.EqualFold(strings.TrimSpace(a), d.String()) {
			return true
		}
	}
	return false
}

// begin validates the shop parameter and starts OAuth.
func (e *Engine) begin(r *http.Request) *flow.Terminal {
	d, ok := shop.Normalize(r.URL.Query().Get("shop"))
	if !ok {
		metrics.Redirected.WithLabelValues("begin_invalid_shop").Inc()
		return flow.Redirect(e.cfg.Routes.Login)
	}
	return e.beginFor(r, d)
}

// beginFor starts OAuth with the right grant mode: online only when an
// active offline record already exists (offline must precede online).
func (e *Engine) beginFor(r *http.Request, d shop.Domain) *flow.Terminal {
	online := false
	if e.cfg.OnlineTokens {
		offline, err := e.store.Load(r.Context(), session.OfflineID(d))
		online = err == nil && offline.IsActive(session.Scopes(e.cfg.Scopes))
	}
	return e.oauth.Begin(r, d, online)
}

// authenticate resolves credential evidence into a context, or decides the
// redirect that re-drives the state machine.
func (e *Engine) authenticate(r *http.Request) (*Context, *flow.Terminal, error) {
	raw := bearerToken(r)
	if raw == "" && e.cfg.Embedded {
		raw = r.URL.Query().Get("id_token")
	}
	if raw != "" {
		return e.withToken(r, raw)
	}
	return e.withParams(r)
}

// withToken is the embedded branch: the verified token is the only trusted
// tenant source.
func (e *Engine) withToken(r *http.Request, raw string) (*Context, *flow.Terminal, error) {
	payload, err := e.tokens.Validate(raw)
	if err != nil {
		if !errors.Is(err, sessiontoken.ErrInvalid) {
			return nil, nil, err
		}
		// no valid credential: re-authenticate rather than error
		e.log.Infow("session token rejected", "err", err)
		if d, ok := shop.Normalize(r.URL.Query().Get("shop")); ok {
			return nil, e.beginFor(r, d), nil
		}
		if e.cfg.Embedded {
			return nil, e.embed.BounceRedirect(r.URL), nil
		}
		metrics.Redirected.WithLabelValues("invalid_token").Inc()
		return nil, flow.Redirect(e.cfg.Routes.Login), nil
	}

	id := session.OfflineID(payload.Shop)
	if e.cfg.OnlineTokens {
		id = session.OnlineID(payload.Shop, payload.Subject)
	}
	rec, err := e.store.Load(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	if !rec.IsActive(session.Scopes(e.cfg.Scopes)) {
		return nil, e.beginFor(r, payload.Shop), nil
	}
	return e.newContext(Embedded, rec, payload, raw), nil, nil
}

// withParams is the standalone branch: trust nothing but a well-formed shop
// parameter, then walk install -> embedding -> token acquisition in order.
func (e *Engine) withParams(r *http.Request) (*Context, *flow.Terminal, error) {
	q := r.URL.Query()
	d, ok := shop.Normalize(q.Get("shop"))
	if !ok {
		// tenant unknown or malformed: login, not OAuth
		metrics.Redirected.WithLabelValues("missing_shop").Inc()
		return nil, flow.Redirect(e.cfg.Routes.Login), nil
	}

	offline, err := e.store.Load(r.Context(), session.OfflineID(d))
	if err != nil {
		return nil, nil, err
	}
	if offline == nil {
		// app not installed on this shop
		return nil, e.oauth.Begin(r, d, false), nil
	}

	if e.cfg.Embedded {
		if q.Get("embedded") != "1" {
			return nil, e.embed.EmbedRedirect(d, r.URL), nil
		}
		// embedded but no id_token parameter reached this branch: bounce to
		// acquire one, then return to the original destination
		return nil, e.embed.BounceRedirect(r.URL), nil
	}

	if !offline.IsActive(session.Scopes(e.cfg.Scopes)) {
		return nil, e.oauth.Begin(r, d, false), nil
	}
	return e.newContext(NonEmbedded, offline, nil, ""), nil, nil
}

func (e *Engine) newContext(mode Mode, rec *session.Record, payload *sessiontoken.Payload, raw string) *Context {
	ac := &Context{
		Mode:       mode,
		Session:    rec,
		Token:      payload,
		RawToken:   raw,
		clients:    e.clients,
		attachCORS: e.guard.Attach,
		exitIframe: e.cfg.Routes.ExitIframe,
	}
	if e.billing != nil {
		ac.Billing = e.billing(rec, e.clients.ForSession(rec))
	}
	return ac
}

// RecoverInvalidated handles a platform 401 on a proactive probe: the stored
// record is deleted and OAuth restarts for the same shop.
func (e *Engine) RecoverInvalidated(r *http.Request, rec *session.Record) *flow.Terminal {
	if err := e.store.Delete(r.Context(), rec.ID); err != nil {
		e.log.Warnw("delete invalidated session", "id", rec.ID, "err", err)
	}
	metrics.Redirected.WithLabelValues("remote_invalidated").Inc()
	return e.oauth.Begin(r, rec.Shop, rec.IsOnline)
}

// Middleware wires the engine into an HTTP stack: terminals are written
// (with CORS headers attached even on errors), contexts are stored on the
// request context for downstream handlers.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, term := e.Handle(r)
		if term != nil {
			e.guard.Attach(term.Header, r.Header.Get("Origin"))
			term.Write(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
	})
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
