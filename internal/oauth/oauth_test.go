package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopauth/internal/apiclient"
	"shopauth/internal/hooks"
	"shopauth/internal/session"
	"shopauth/pkg/config"
	"shopauth/pkg/logger"
	"shopauth/pkg/shop"
)

const (
	apiKey    = "test-api-key"
	apiSecret = "test-api-secret"
	testShop  = "acme.myshopify.com"
)

type stubExchanger struct {
	fn    func(d shop.Domain, code string) (*AccessToken, error)
	calls int
}

func (s *stubExchanger) Exchange(_ context.Context, d shop.Domain, code string) (*AccessToken, error) {
	s.calls++
	return s.fn(d, code)
}

func offlineToken() *AccessToken {
	return &AccessToken{Token: "offline-tok", Scopes: session.Scopes{"read_products"}}
}

func onlineToken() *AccessToken {
	exp := time.Now().Add(time.Hour)
	return &AccessToken{
		Token:   "online-tok",
		Scopes:  session.Scopes{"read_products"},
		Expires: &exp,
		User:    &session.AssociatedUser{ID: "42", Email: "u@acme.test"},
	}
}

func testConfig(embedded, online bool) config.Config {
	return config.Config{
		Env:          "test",
		APIKey:       apiKey,
		APISecret:    apiSecret,
		AppURL:       "https://app.example.com",
		Scopes:       []string{"read_products"},
		Embedded:     embedded,
		OnlineTokens: online,
		AdminHost:    "admin.shopify.com",
		Routes: config.Routes{
			Login:      "/auth/login",
			Begin:      "/auth",
			Callback:   "/auth/callback",
			Bounce:     "/auth/session-token-bounce",
			ExitIframe: "/exitiframe",
		},
	}
}

type fixture struct {
	orch  *Orchestrator
	store *session.MemoryStore
	ex    *stubExchanger
	hooks *hooks.Registry
}

func newFixture(cfg config.Config, ex *stubExchanger) *fixture {
	st := session.NewMemoryStore()
	reg := hooks.NewRegistry()
	orch := NewOrchestrator(cfg, logger.Nop(), st, ex, reg, apiclient.NewFactory("2024-07"), nil)
	return &fixture{orch: orch, store: st, ex: ex, hooks: reg}
}

// signQuery computes the platform signature over q the way the platform does:
// sorted k=v pairs joined by '&', hex HMAC-SHA256 under the shared secret.
func signQuery(q url.Values) {
	q.Del("hmac")
	pairs := make([]string, 0, len(q))
	for k, vs := range q {
		pairs = append(pairs, k+"="+strings.Join(vs, ","))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	q.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
}

func callbackRequest(t *testing.T, q url.Values, stateCookie string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	if stateCookie != "" {
		r.AddCookie(&http.Cookie{Name: stateCookieName, Value: stateCookie})
	}
	return r
}

func TestBeginRedirectsToAuthorize(t *testing.T) {
	f := newFixture(testConfig(false, false), nil)
	r := httptest.NewRequest(http.MethodGet, "/auth?shop="+testShop, nil)

	term := f.orch.Begin(r, testShop, false)
	require.Equal(t, http.StatusFound, term.Status)

	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	assert.Equal(t, testShop, loc.Host)
	assert.Equal(t, "/admin/oauth/authorize", loc.Path)
	assert.Equal(t, apiKey, loc.Query().Get("client_id"))
	assert.Equal(t, "https://app.example.com/auth/callback", loc.Query().Get("redirect_uri"))
	assert.NotEmpty(t, loc.Query().Get("state"))
	assert.Empty(t, loc.Query().Get("grant_options[]"))

	// signed state cookie set
	assert.Contains(t, term.Header.Get("Set-Cookie"), stateCookieName+"=")
}

func TestBeginOnlineRequestsPerUserGrant(t *testing.T) {
	f := newFixture(testConfig(false, true), nil)
	r := httptest.NewRequest(http.MethodGet, "/auth?shop="+testShop, nil)

	term := f.orch.Begin(r, testShop, true)
	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	assert.Equal(t, "per-user", loc.Query().Get("grant_options[]"))
}

func TestBeginInsideIframeRoutesThroughExitIframe(t *testing.T) {
	f := newFixture(testConfig(true, false), nil)
	r := httptest.NewRequest(http.MethodGet, "/auth?shop="+testShop, nil)
	r.Header.Set("Sec-Fetch-Dest", "iframe")

	term := f.orch.Begin(r, testShop, false)
	require.Equal(t, http.StatusFound, term.Status)

	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	require.Equal(t, "/exitiframe", loc.Path)

	dest, err := url.Parse(loc.Query().Get("redirectUri"))
	require.NoError(t, err)
	assert.Equal(t, testShop, dest.Host)
	assert.Equal(t, "/admin/oauth/authorize", dest.Path)
}

func TestCallbackInvalidHmacIs400AndStoresNothing(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		t.Fatal("exchange must not run on invalid hmac")
		return nil, nil
	}})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	q.Set("hmac", "deadbeef")

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	assert.Equal(t, http.StatusBadRequest, term.Status)

	rec, err := f.store.Load(context.Background(), session.OfflineID(testShop))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestCallbackMissingCookieRestartsBegin(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		t.Fatal("exchange must not run without state cookie")
		return nil, nil
	}})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, ""))
	require.Equal(t, http.StatusFound, term.Status)

	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	assert.Equal(t, testShop, loc.Host)
	assert.Equal(t, "/admin/oauth/authorize", loc.Path)
}

func TestCallbackStateMismatchIs400(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return offlineToken(), nil
	}})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "other")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	assert.Equal(t, http.StatusBadRequest, term.Status)
}

func TestCallbackSuccessPersistsAndFiresHookOnce(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return offlineToken(), nil
	}})

	fired := 0
	f.hooks.Register(func(_ context.Context, rec *session.Record, client *apiclient.Client) error {
		fired++
		assert.Equal(t, testShop, rec.Shop.String())
		assert.NotNil(t, client)
		return nil
	})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	require.Equal(t, http.StatusFound, term.Status)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, f.ex.calls)

	rec, err := f.store.Load(context.Background(), session.OfflineID(testShop))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsOnline)
	assert.Equal(t, "offline-tok", rec.AccessToken)

	// non-embedded success lands on the app root with shop carried along
	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, testShop, loc.Query().Get("shop"))
}

func TestCallbackOfflineWhenOnlineRequiredReBeginsBeforeHook(t *testing.T) {
	f := newFixture(testConfig(true, true), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return offlineToken(), nil
	}})

	fired := 0
	f.hooks.Register(func(context.Context, *session.Record, *apiclient.Client) error {
		fired++
		return nil
	})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	require.Equal(t, http.StatusFound, term.Status)

	// offline record persisted before the online round-trip
	rec, err := f.store.Load(context.Background(), session.OfflineID(testShop))
	require.NoError(t, err)
	require.NotNil(t, rec)

	// second begin requests the per-user grant; the hook waits for it
	loc, err := url.Parse(term.Location())
	require.NoError(t, err)
	assert.Equal(t, "/admin/oauth/authorize", loc.Path)
	assert.Equal(t, "per-user", loc.Query().Get("grant_options[]"))
	assert.Equal(t, 0, fired)
}

func TestCallbackOnlineExchangeCompletes(t *testing.T) {
	f := newFixture(testConfig(true, true), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return onlineToken(), nil
	}})

	fired := 0
	f.hooks.Register(func(_ context.Context, rec *session.Record, _ *apiclient.Client) error {
		fired++
		assert.True(t, rec.IsOnline)
		return nil
	})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	require.Equal(t, http.StatusFound, term.Status)
	assert.Equal(t, 1, fired)

	rec, err := f.store.Load(context.Background(), session.OnlineID(testShop, "42"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsOnline)
	assert.Equal(t, "42", rec.User.ID)
}

func TestCallbackExchangeFailureIs500(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return nil, assert.AnError
	}})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	assert.Equal(t, http.StatusInternalServerError, term.Status)
}

func TestCallbackRemoteErrorForwardsStatus(t *testing.T) {
	f := newFixture(testConfig(false, false), &stubExchanger{fn: func(shop.Domain, string) (*AccessToken, error) {
		return nil, &apiclient.RemoteError{Status: http.StatusBadGateway}
	}})

	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)

	term := f.orch.Callback(callbackRequest(t, q, signNonce("abc", apiSecret)))
	assert.Equal(t, http.StatusBadGateway, term.Status)
}

func TestValidHmac(t *testing.T) {
	q := url.Values{}
	q.Set("shop", testShop)
	q.Set("code", "c0de")
	q.Set("state", "abc")
	signQuery(q)
	assert.True(t, validHmac(q, apiSecret))

	q.Set("code", "tampered")
	assert.False(t, validHmac(q, apiSecret))

	q = url.Values{}
	q.Set("shop", testShop)
	assert.False(t, validHmac(q, apiSecret), "missing hmac param")
}

func TestNonceSignRoundTrip(t *testing.T) {
	v := signNonce("abc", apiSecret)
	nonce, ok := verifyNonce(v, apiSecret)
	require.True(t, ok)
	assert.Equal(t, "abc", nonce)

	_, ok = verifyNonce(v+"x", apiSecret)
	assert.False(t, ok)
	_, ok = verifyNonce("plain", apiSecret)
	assert.False(t, ok)
}
