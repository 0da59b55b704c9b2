// cmd/app-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"shopauth/internal/apiclient"
	"shopauth/internal/botguard"
	"shopauth/internal/embedded"
	"shopauth/internal/engine"
	"shopauth/internal/hooks"
	"shopauth/internal/oauth"
	"shopauth/internal/session"
	"shopauth/internal/sessiontoken"
	"shopauth/pkg/config"
	"shopauth/pkg/db"
	"shopauth/pkg/logger"
	"shopauth/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var store session.Store
	switch {
	case pool != nil:
		if err := session.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		store = session.NewPostgresStore(pool)
	case rdb != nil:
		store = session.NewRedisStore(rdb)
	default:
		store = session.NewMemoryStore()
	}

	var nonces oauth.NonceCache
	if rdb != nil {
		nonces = oauth.NewRedisNonceCache(rdb)
	}

	guard, err := botguard.New(log, cfg.CORSAllowedOrigins, cfg.BotPolicyFile)
	if err != nil {
		log.Fatalw("bot policy", "file", cfg.BotPolicyFile, "err", err)
	}

	clients := apiclient.NewFactory(cfg.APIVersion)
	reg := hooks.NewRegistry()
	reg.Register(func(ctx context.Context, rec *session.Record, client *apiclient.Client) error {
		log.Infow("auth completed", "shop", rec.Shop, "online", rec.IsOnline)
		return nil
	})

	orch := oauth.NewOrchestrator(cfg, log, store,
		oauth.NewHTTPExchanger(cfg.APIKey, cfg.APISecret), reg, clients, nonces)
	tokens := sessiontoken.NewValidator(cfg.APIKey, cfg.APISecret, cfg.TokenClockSkew)
	eng := engine.New(cfg, log, store, tokens, orch,
		embedded.NewController(cfg), guard, clients)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Everything else goes through the auth engine; handlers below only run
	// with a validated context on the request.
	r.Group(func(r chi.Router) {
		r.Use(eng.Middleware)
		r.Get("/", home)
		r.Get("/api/shop", shopInfo(log))
		r.NotFound(home)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("app-service listening", "addr", cfg.HTTPAddr, "embedded", cfg.Embedded)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("app-service stopped")
}

func home(w http.ResponseWriter, r *http.Request) {
	ac := engine.FromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<h1>Authenticated</h1><p>shop: %s</p>", ac.Session.Shop)
}

// shopInfo demonstrates a platform API call bound to the confirmed session.
func shopInfo(log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac := engine.FromContext(r.Context())
		doc, err := ac.APIClient().Get(r.Context(), "shop.json")
		if err != nil {
			log.Warnw("shop fetch", "shop", ac.Session.Shop, "err", err)
			http.Error(w, "upstream error", http.StatusBadGateway)
			return
		}
		name, _ := apiclient.Extract(doc, "shop.name")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"shop": ac.Session.Shop, "name": name})
	}
}
