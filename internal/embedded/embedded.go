// internal/embedded/embedded.go

// Package embedded implements the iframe escape mechanics: the bounce page
// that re-acquires a session token client-side, the exit-iframe page that
// forces a top-level navigation, and the redirects that get a standalone
// request re-embedded into the platform admin.
package embedded

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"

	"shopauth/internal/flow"
	"shopauth/internal/metrics"
	"shopauth/pkg/config"
	"shopauth/pkg/shop"
)

// ReloadParam carries the URL the bounce page returns to once it holds a
// fresh session token.
const ReloadParam = "shopify-reload"

type Controller struct {
	cfg config.Config
}

func NewController(cfg config.Config) *Controller {
	return &Controller{cfg: cfg}
}

const bouncePageTmpl = `<!DOCTYPE html>
<html>
<head>
  <meta name="shopify-api-key" content="%s">
  <script src="https://cdn.shopify.com/shopifycloud/app-bridge.js"></script>
</head>
<body>
  <script>
    var params = new URLSearchParams(location.search);
    var target = params.get(%q) || "/";
    window.shopify.idToken().then(function (token) {
      var url = new URL(target, location.origin);
      url.searchParams.set("id_token", token);
      location.replace(url.toString());
    });
  </script>
</body>
</html>`

// BouncePage renders the app-bridge page that fetches a session token and
// replays the original request with it attached.
func (c *Controller) BouncePage() *flow.Terminal {
	return flow.HTML(http.StatusOK, fmt.Sprintf(bouncePageTmpl, html.EscapeString(c.cfg.APIKey), ReloadParam))
}

const exitIframeTmpl = `<!DOCTYPE html>
<html>
<head>
  <meta name="shopify-api-key" content="%s">
  <script src="https://cdn.shopify.com/shopifycloud/app-bridge.js"></script>
</head>
<body>
  <script>
    window.open(%q, "_top");
  </script>
</body>
</html>`

// ExitIframePage renders the page that breaks out of the iframe and drives
// the top-level browsing context to the destination in redirectUri. The
// destination is restricted to relative paths, shop domains, and the platform
// admin host; anything else yields a 400.
func (c *Controller) ExitIframePage(r *http.Request) *flow.Terminal {
	dest := r.URL.Query().Get("redirectUri")
	if dest == "" || !c.safeDestination(dest) {
		return flow.Problem(http.StatusBadRequest, "invalid-redirect", "Invalid redirect target", "redirectUri is missing or not an allowed destination")
	}
	return flow.HTML(http.StatusOK, fmt.Sprintf(exitIframeTmpl, html.EscapeString(c.cfg.APIKey), dest))
}

func (c *Controller) safeDestination(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return strings.HasPrefix(u.Path, "/")
	}
	if u.Scheme != "https" {
		return false
	}
	if u.Host == c.cfg.AdminHost {
		return true
	}
	if appURL, err := url.Parse(c.cfg.AppURL); err == nil && u.Host == appURL.Host {
		return true
	}
	_, ok := shop.FromHost(u.Hostname())
	return ok
}

// EmbedRedirect sends the top-level browser to the platform wrapper URL that
// re-embeds the app and re-invokes it with the embedded marker set.
func (c *Controller) EmbedRedirect(d shop.Domain, originalURL *url.URL) *flow.Terminal {
	metrics.Redirected.WithLabelValues("embed").Inc()
	target := fmt.Sprintf("https://%s/admin/apps/%s%s", d, c.cfg.APIKey, originalURL.Path)
	if originalURL.RawQuery != "" {
		target += "?" + originalURL.RawQuery
	}
	return flow.Redirect(target)
}

// BounceRedirect routes an embedded request that lacks its session token
// parameter to the bounce page, carrying the current URL as reload target.
func (c *Controller) BounceRedirect(originalURL *url.URL) *flow.Terminal {
	metrics.Redirected.WithLabelValues("bounce").Inc()
	q := url.Values{}
	q.Set(ReloadParam, originalURL.RequestURI())
	return flow.Redirect(c.cfg.Routes.Bounce + "?" + q.Encode())
}
