package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerguard"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		},
		[]string{"outcome"}, // success, invalid_credentials, rate_limited, account_locked, ...
	)

	accountLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after crossing the failed login threshold",
		},
	)

	statusDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_status_denials_total",
			Help:      "Authenticated requests rejected because of account status",
		},
		[]string{"reason"},
	)

	tokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token refreshes by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordLoginOutcome counts one evaluated login attempt.
func RecordLoginOutcome(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordLockout() {
	accountLockoutsTotal.Inc()
}

// RecordStatusDenial matches auth.StatusGuard.OnDenied.
func RecordStatusDenial(reason string) {
	statusDenialsTotal.WithLabelValues(reason).Inc()
}

func RecordTokenRefresh(outcome string) {
	tokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// RegisterPoolStats exposes connection pool gauges. Call once per pool.
func RegisterPoolStats(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	gauges := map[string]func(*pgxpool.Stat) float64{
		"db_pool_total_conns":    func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) },
		"db_pool_idle_conns":     func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) },
		"db_pool_acquired_conns": func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) },
		"db_pool_max_conns":      func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) },
	}

	for name, value := range gauges {
		value := value
		collector := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
				Help:      "PostgreSQL connection pool statistic",
			},
			func() float64 { return value(pool.Stat()) },
		)
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Middleware records request count and latency keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
