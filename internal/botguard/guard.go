// internal/botguard/guard.go
package botguard

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/mssola/useragent"
	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"shopauth/internal/flow"
)

// Guard rejects automated/non-browser traffic and answers CORS preflights
// before any auth state is touched. Pure predicate plus early response; the
// only I/O is the optional Rego policy loaded once at construction.
type Guard struct {
	log     *zap.SugaredLogger
	allowed []string
	policy  *rego.PreparedEvalQuery
}

// New builds a guard. policyFile may name a Rego module exposing
// data.botguard.allow; when empty the built-in user-agent predicate applies.
func New(log *zap.SugaredLogger, allowedOrigins []string, policyFile string) (*Guard, error) {
	g := &Guard{log: log, allowed: allowedOrigins}
	if policyFile != "" {
		mod, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, err
		}
		pq, err := rego.New(
			rego.Query("data.botguard.allow"),
			rego.Module("botguard.rego", string(mod)),
		).PrepareForEval(context.Background())
		if err != nil {
			return nil, err
		}
		g.policy = &pq
	}
	return g, nil
}

// Check returns a terminal response for preflights and rejected traffic, nil
// to let the request continue. Returned terminals already carry CORS headers.
func (g *Guard) Check(r *http.Request) *flow.Terminal {
	if r.Method == http.MethodOptions && r.Header.Get("Origin") != "" {
		t := flow.NoContent()
		g.Attach(t.Header, r.Header.Get("Origin"))
		return t
	}
	if !g.allow(r) {
		g.log.Infow("bot rejected", "ua", r.UserAgent(), "path", r.URL.Path)
		t := flow.Problem(http.StatusForbidden, "bot-rejected", "Forbidden", "automated traffic is not served")
		g.Attach(t.Header, r.Header.Get("Origin"))
		return t
	}
	return nil
}

func (g *Guard) allow(r *http.Request) bool {
	if g.policy != nil {
		input := map[string]any{
			"method":         r.Method,
			"path":           r.URL.Path,
			"user_agent":     r.UserAgent(),
			"origin":         r.Header.Get("Origin"),
			"sec_fetch_dest": r.Header.Get("Sec-Fetch-Dest"),
		}
		rs, err := g.policy.Eval(r.Context(), rego.EvalInput(input))
		if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
			g.log.Warnw("botguard policy eval failed, falling back to builtin", "err", err)
		} else if allow, ok := rs[0].Expressions[0].Value.(bool); ok {
			return allow
		}
	}
	ua := r.UserAgent()
	if ua == "" {
		return false
	}
	return !useragent.New(ua).Bot()
}

// Attach sets CORS headers on h for the given request origin. It is also
// applied to error terminals so failing responses stay readable cross-origin.
func (g *Guard) Attach(h http.Header, origin string) {
	ao, ok := g.match(origin)
	if !ok {
		return
	}
	h.Set("Access-Control-Allow-Origin", ao)
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Max-Age", "86400")
}

func (g *Guard) match(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	for _, a := range g.allowed {
		a = strings.TrimSpace(a)
		if a == "*" || a == origin {
			return a, true
		}
	}
	return "", false
}
