package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	ClientsRegistered   prometheus.Counter
	AccountsIssued      prometheus.Counter
	CardsIssued         *prometheus.CounterVec
	IssuanceRejections  *prometheus.CounterVec
	IssuanceDuration    *prometheus.HistogramVec
	GenerationAttempts  *prometheus.HistogramVec
	IdempotentReplays   prometheus.Counter
	AuditPublishFailure prometheus.Counter
}

// New creates and registers all metrics with reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClientsRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "homebank_clients_registered_total",
			Help: "Total number of clients registered",
		}),
		AccountsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "homebank_accounts_issued_total",
			Help: "Total number of accounts issued",
		}),
		CardsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homebank_cards_issued_total",
			Help: "Total number of cards issued by type",
		}, []string{"type"}),
		IssuanceRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "homebank_issuance_rejections_total",
			Help: "Issuance requests rejected by resource and reason",
		}, []string{"resource", "reason"}),
		IssuanceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homebank_issuance_duration_seconds",
			Help:    "Time spent issuing a resource, including serialization wait",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource"}),
		GenerationAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "homebank_identifier_generation_attempts",
			Help:    "Candidates generated before a free identifier was found",
			Buckets: []float64{1, 2, 3, 5, 10, 50, 100, 1000},
		}, []string{"resource"}),
		IdempotentReplays: f.NewCounter(prometheus.CounterOpts{
			Name: "homebank_idempotent_replays_total",
			Help: "Responses served from the idempotency store",
		}),
		AuditPublishFailure: f.NewCounter(prometheus.CounterOpts{
			Name: "homebank_audit_publish_failures_total",
			Help: "Audit events that could not be delivered",
		}),
	}
}

// IncrementClientsRegistered increments the clients registered counter by 1
func (m *Metrics) IncrementClientsRegistered() {
	m.ClientsRegistered.Inc()
}

// IncrementAccountsIssued increments the accounts issued counter by 1
func (m *Metrics) IncrementAccountsIssued() {
	m.AccountsIssued.Inc()
}

// IncrementCardsIssued increments the cards issued counter for cardType
func (m *Metrics) IncrementCardsIssued(cardType string) {
	m.CardsIssued.WithLabelValues(cardType).Inc()
}

// IncrementRejection records a rejected issuance
func (m *Metrics) IncrementRejection(resource, reason string) {
	m.IssuanceRejections.WithLabelValues(resource, reason).Inc()
}

// ObserveIssuance records how long an issuance took
func (m *Metrics) ObserveIssuance(resource string, d time.Duration) {
	m.IssuanceDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// ObserveGenerationAttempts records how many candidates the resolver drew
func (m *Metrics) ObserveGenerationAttempts(resource string, attempts int) {
	m.GenerationAttempts.WithLabelValues(resource).Observe(float64(attempts))
}

// IncrementIdempotentReplays counts a replayed response
func (m *Metrics) IncrementIdempotentReplays() {
	m.IdempotentReplays.Inc()
}

// IncrementAuditFailures counts an audit event that failed to publish
func (m *Metrics) IncrementAuditFailures() {
	m.AuditPublishFailure.Inc()
}
