// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Routes holds the configuration-driven paths of the auth surface. Handlers
// never hardcode paths; everything routes through this struct.
type Routes struct {
	Login      string `yaml:"login"`
	Begin      string `yaml:"begin"`
	Callback   string `yaml:"callback"`
	Bounce     string `yaml:"bounce"`
	ExitIframe string `yaml:"exit_iframe"`
}

type Config struct {
	Env      string
	HTTPAddr string

	// App credentials issued by the platform.
	APIKey    string
	APISecret string

	// AppURL is the app's own public URL (redirect target after install).
	AppURL string

	// Scopes requested at install time; also the required set for session
	// activeness checks.
	Scopes []string

	// Embedded switches the engine between iframe (session token) and
	// standalone (cookie/param) behavior.
	Embedded bool

	// OnlineTokens requests a user-bound token layered on the offline one.
	OnlineTokens bool

	Routes Routes

	// AdminHost hosts the platform wrapper URL used to re-embed the app.
	AdminHost  string
	APIVersion string

	// CORS / bot guard.
	CORSAllowedOrigins []string
	BotPolicyFile      string // optional Rego module evaluated by the guard
	ShopAllowlist      []string

	// Session token clock skew tolerance.
	TokenClockSkew time.Duration

	// Redis & Postgres (session store backends).
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                env("SHOPAUTH_ENV", "dev"),
		HTTPAddr:           env("SHOPAUTH_HTTP_ADDR", ":8080"),
		APIKey:             env("SHOPIFY_API_KEY", ""),
		APISecret:          env("SHOPIFY_API_SECRET", ""),
		AppURL:             env("APP_URL", "http://localhost:8080"),
		Scopes:             envList("SHOPIFY_SCOPES", "read_products"),
		Embedded:           envBool("APP_EMBEDDED", true),
		OnlineTokens:       envBool("USE_ONLINE_TOKENS", false),
		AdminHost:          env("PLATFORM_ADMIN_HOST", "admin.shopify.com"),
		APIVersion:         env("PLATFORM_API_VERSION", "2024-07"),
		CORSAllowedOrigins: envList("CORS_ALLOWED_ORIGINS", "*"),
		BotPolicyFile:      env("BOT_POLICY_FILE", ""),
		ShopAllowlist:      envList("SHOP_ALLOWLIST", ""),
		TokenClockSkew:     envDur("TOKEN_CLOCK_SKEW_SEC", 10) * time.Second,
		RedisURL:           env("REDIS_URL", ""),
		DatabaseURL:        env("DATABASE_URL", ""),
		Routes: Routes{
			Login:      env("AUTH_LOGIN_PATH", "/auth/login"),
			Begin:      env("AUTH_BEGIN_PATH", "/auth"),
			Callback:   env("AUTH_CALLBACK_PATH", "/auth/callback"),
			Bounce:     env("AUTH_BOUNCE_PATH", "/auth/session-token-bounce"),
			ExitIframe: env("AUTH_EXIT_IFRAME_PATH", "/exitiframe"),
		},
	}
	if f := env("AUTH_ROUTES_FILE", ""); f != "" {
		if err := loadRoutesFile(f, &cfg.Routes); err != nil {
			log.Printf("[WARN] routes file %s: %v", f, err)
		}
	}
	if cfg.APISecret == "" {
		log.Println("[WARN] SHOPIFY_API_SECRET not set, token and HMAC validation will reject everything")
	}
	if cfg.DatabaseURL == "" && cfg.RedisURL == "" {
		log.Println("[WARN] no DATABASE_URL or REDIS_URL, using in-memory session store for dev")
	}
	return cfg
}

// loadRoutesFile overlays non-empty values from a YAML file onto r.
func loadRoutesFile(path string, r *Routes) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var over Routes
	if err := yaml.Unmarshal(b, &over); err != nil {
		return err
	}
	if over.Login != "" {
		r.Login = over.Login
	}
	if over.Begin != "" {
		r.Begin = over.Begin
	}
	if over.Callback != "" {
		r.Callback = over.Callback
	}
	if over.Bounce != "" {
		r.Bounce = over.Bounce
	}
	if over.ExitIframe != "" {
		r.ExitIframe = over.ExitIframe
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}

func envList(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
