package botguard

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopauth/pkg/logger"
)

const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func newGuard(t *testing.T, origins []string, policyFile string) *Guard {
	t.Helper()
	g, err := New(logger.Nop(), origins, policyFile)
	require.NoError(t, err)
	return g
}

func TestPreflightAnsweredEarly(t *testing.T) {
	g := newGuard(t, []string{"*"}, "")
	r := httptest.NewRequest(http.MethodOptions, "/anything", nil)
	r.Header.Set("Origin", "https://admin.shopify.com")

	term := g.Check(r)
	require.NotNil(t, term)
	assert.Equal(t, http.StatusNoContent, term.Status)
	assert.Equal(t, "*", term.Header.Get("Access-Control-Allow-Origin"))
}

func TestBotRejected(t *testing.T) {
	g := newGuard(t, []string{"*"}, "")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "Googlebot/2.1 (+http://www.google.com/bot.html)")
	term := g.Check(r)
	require.NotNil(t, term)
	assert.Equal(t, http.StatusForbidden, term.Status)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	// empty user agent is treated as automated
	term = g.Check(r)
	require.NotNil(t, term)
	assert.Equal(t, http.StatusForbidden, term.Status)
}

func TestBrowserPasses(t *testing.T) {
	g := newGuard(t, []string{"*"}, "")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", browserUA)
	assert.Nil(t, g.Check(r))
}

func TestRegoPolicy(t *testing.T) {
	dir := t.TempDir()
	policy := filepath.Join(dir, "botguard.rego")
	require.NoError(t, os.WriteFile(policy, []byte(`package botguard

default allow = false

allow {
	input.user_agent != ""
	not startswith(input.user_agent, "curl/")
}
`), 0o600))

	g := newGuard(t, []string{"*"}, policy)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", "curl/8.0")
	term := g.Check(r)
	require.NotNil(t, term)
	assert.Equal(t, http.StatusForbidden, term.Status)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("User-Agent", browserUA)
	assert.Nil(t, g.Check(r))
}

func TestAttachMatchesOrigin(t *testing.T) {
	g := newGuard(t, []string{"https://app.example.com"}, "")

	h := http.Header{}
	g.Attach(h, "https://app.example.com")
	assert.Equal(t, "https://app.example.com", h.Get("Access-Control-Allow-Origin"))

	h = http.Header{}
	g.Attach(h, "https://evil.example.com")
	assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
}
