package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counters for the token lifecycle operations.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	refreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Refresh rotations by result.",
		},
		[]string{"result"},
	)

	logoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logouts by scope.",
		},
		[]string{"scope"},
	)
)

var initOnce sync.Once

// Init registers the auth metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(loginsTotal, refreshesTotal, logoutsTotal)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records a login attempt. Method is "password" or
// "federated".
func ObserveLogin(method, result string) {
	loginsTotal.WithLabelValues(method, result).Inc()
}

// ObserveRefresh records a refresh rotation outcome.
func ObserveRefresh(result string) {
	refreshesTotal.WithLabelValues(result).Inc()
}

// ObserveLogout records a logout. Scope is "single" or "all".
func ObserveLogout(scope string) {
	logoutsTotal.WithLabelValues(scope).Inc()
}
