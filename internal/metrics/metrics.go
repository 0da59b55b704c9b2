// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Authenticated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopauth_authenticated_total",
		Help: "Requests that resolved to a valid session context.",
	})
	Redirected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopauth_redirects_total",
		Help: "Terminal redirects issued by the auth engine, by reason.",
	}, []string{"reason"})
	OAuthCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopauth_oauth_completed_total",
		Help: "Successful OAuth callback exchanges, by token mode.",
	}, []string{"mode"})
	CallbackFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopauth_oauth_callback_failures_total",
		Help: "OAuth callback failures, by classification.",
	}, []string{"kind"})
	BotRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopauth_bot_rejected_total",
		Help: "Requests rejected by the bot guard.",
	})
)
