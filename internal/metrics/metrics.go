package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Gateway metrics
	GatewayRequestsTotal  *prometheus.CounterVec
	GatewayRejectedTotal  *prometheus.CounterVec
	ChallengesIssuedTotal *prometheus.CounterVec
	RedemptionsTotal      *prometheus.CounterVec
	ReplaysRejectedTotal  prometheus.Counter
	UpstreamDuration      *prometheus.HistogramVec
	UpstreamErrorsTotal   *prometheus.CounterVec

	// Ledger metrics
	TopupsCreatedTotal  prometheus.Counter
	TopupsClaimedTotal  *prometheus.CounterVec
	DebitsTotal         *prometheus.CounterVec
	DebitedSatsTotal    *prometheus.CounterVec
	InsufficientBalance prometheus.Counter

	// Marketplace metrics
	EscrowLocksTotal    *prometheus.CounterVec
	EscrowReleasesTotal prometheus.Counter
	EscrowedSatsTotal   prometheus.Counter
	ReleasedSatsTotal   prometheus.Counter

	// Lightning metrics
	PhoenixCallsTotal   *prometheus.CounterVec
	PhoenixCallDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Used-hash set metrics
	UsedHashEntries prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		GatewayRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_gateway_requests_total",
				Help: "Total gated proxy requests by api, endpoint, and auth mode",
			},
			[]string{"api", "endpoint", "auth"},
		),
		GatewayRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_gateway_rejected_total",
				Help: "Total requests rejected before forwarding, by error code",
			},
			[]string{"code"},
		),
		ChallengesIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_challenges_issued_total",
				Help: "Total 402 challenges issued",
			},
			[]string{"kind"}, // proxy | topup | escrow
		),
		RedemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_l402_redemptions_total",
				Help: "Total successful L402 redemptions",
			},
			[]string{"kind"},
		),
		ReplaysRejectedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_l402_replays_rejected_total",
				Help: "Total redemption attempts on an already-used payment hash",
			},
		),
		UpstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abl_upstream_duration_seconds",
				Help:    "Upstream proxy call duration",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
			},
			[]string{"api", "endpoint"},
		),
		UpstreamErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_upstream_errors_total",
				Help: "Total upstream transport or HTTP failures after payment",
			},
			[]string{"api"},
		),

		TopupsCreatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_topups_created_total",
				Help: "Total top-up invoices created",
			},
		),
		TopupsClaimedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_topups_claimed_total",
				Help: "Total top-up claims by outcome",
			},
			[]string{"outcome"}, // claimed | new_account | rejected
		),
		DebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_ledger_debits_total",
				Help: "Total successful ledger debits by endpoint label",
			},
			[]string{"endpoint"},
		),
		DebitedSatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_ledger_debited_sats_total",
				Help: "Total sats debited by endpoint label",
			},
			[]string{"endpoint"},
		),
		InsufficientBalance: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_ledger_insufficient_balance_total",
				Help: "Total debits refused for insufficient balance",
			},
		),

		EscrowLocksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_escrow_locks_total",
				Help: "Total escrow locks by funding source",
			},
			[]string{"funding"}, // ledger | lightning
		),
		EscrowReleasesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_escrow_releases_total",
				Help: "Total escrow releases",
			},
		),
		EscrowedSatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_escrowed_sats_total",
				Help: "Total sats locked in escrow",
			},
		),
		ReleasedSatsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "abl_released_sats_total",
				Help: "Total sats released from escrow",
			},
		),

		PhoenixCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_phoenix_calls_total",
				Help: "Total Lightning node API calls",
			},
			[]string{"operation", "status"},
		),
		PhoenixCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abl_phoenix_call_duration_seconds",
				Help:    "Lightning node API call duration",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abl_rate_limit_hits_total",
				Help: "Total requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abl_db_query_duration_seconds",
				Help:    "Database query duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "abl_db_connections_active",
				Help: "Active database connections",
			},
		),

		UsedHashEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "abl_used_hash_entries",
				Help: "Payment hashes currently held in the replay-defense set",
			},
		),
	}
}

// ObserveGatewayRequest records an admitted proxy request.
func (m *Metrics) ObserveGatewayRequest(api, endpoint, auth string) {
	m.GatewayRequestsTotal.WithLabelValues(api, endpoint, auth).Inc()
}

// ObserveGatewayRejection records a request the gate turned away.
func (m *Metrics) ObserveGatewayRejection(code string) {
	m.GatewayRejectedTotal.WithLabelValues(code).Inc()
}

// ObserveChallenge records a 402 challenge.
func (m *Metrics) ObserveChallenge(kind string) {
	m.ChallengesIssuedTotal.WithLabelValues(kind).Inc()
}

// ObserveRedemption records a successful L402 redemption.
func (m *Metrics) ObserveRedemption(kind string) {
	m.RedemptionsTotal.WithLabelValues(kind).Inc()
}

// ObserveUpstream records an upstream call.
func (m *Metrics) ObserveUpstream(api, endpoint string, duration time.Duration, failed bool) {
	m.UpstreamDuration.WithLabelValues(api, endpoint).Observe(duration.Seconds())
	if failed {
		m.UpstreamErrorsTotal.WithLabelValues(api).Inc()
	}
}

// ObserveDebit records a successful ledger debit.
func (m *Metrics) ObserveDebit(endpoint string, amountSats int64) {
	m.DebitsTotal.WithLabelValues(endpoint).Inc()
	m.DebitedSatsTotal.WithLabelValues(endpoint).Add(float64(amountSats))
}

// ObserveEscrowLock records an escrow lock.
func (m *Metrics) ObserveEscrowLock(funding string, amountSats int64) {
	m.EscrowLocksTotal.WithLabelValues(funding).Inc()
	m.EscrowedSatsTotal.Add(float64(amountSats))
}

// ObserveEscrowRelease records an escrow release.
func (m *Metrics) ObserveEscrowRelease(amountSats int64) {
	m.EscrowReleasesTotal.Inc()
	m.ReleasedSatsTotal.Add(float64(amountSats))
}

// ObservePhoenixCall records a Lightning node API call.
func (m *Metrics) ObservePhoenixCall(operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PhoenixCallsTotal.WithLabelValues(operation, status).Inc()
	m.PhoenixCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query duration.
func (m *Metrics) ObserveDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
