// Package metrics records economy activity for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the economy collectors. A nil Recorder, or one built with a
// nil registerer, records nothing.
type Recorder struct {
	epochDuration  *prometheus.HistogramVec
	epochRuns      *prometheus.CounterVec
	transactions   prometheus.Counter
	bankruptcies   prometheus.Counter
	latestEpoch    prometheus.Gauge
	narrativeUnits *prometheus.CounterVec
	betsPlaced     *prometheus.CounterVec
	betsSettled    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

// New registers the economy metrics on the provided registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	r := &Recorder{
		epochDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "economy_epoch_duration_seconds",
			Help:    "Duration of epoch runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"trigger"}),
		epochRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_epoch_runs_total",
			Help: "Epoch run attempts by outcome.",
		}, []string{"outcome"}),
		transactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "economy_transactions_total",
			Help: "Ledger transactions committed.",
		}),
		bankruptcies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "economy_bankruptcies_total",
			Help: "Agents that went bankrupt.",
		}),
		latestEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "economy_latest_epoch",
			Help: "Number of the latest committed epoch.",
		}),
		narrativeUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_narrative_units_total",
			Help: "Narrative generation units by kind and outcome.",
		}, []string{"kind", "outcome"}),
		betsPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_bets_placed_total",
			Help: "Bets placed by prediction.",
		}, []string{"prediction"}),
		betsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_bets_settled_total",
			Help: "Bets settled by result.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "economy_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}
	reg.MustRegister(r.epochDuration, r.epochRuns, r.transactions, r.bankruptcies,
		r.latestEpoch, r.narrativeUnits, r.betsPlaced, r.betsSettled, r.rateLimited)
	return r
}

// ObserveEpoch records a committed epoch.
func (r *Recorder) ObserveEpoch(trigger string, epoch int64, txs, bankruptcies int, d time.Duration) {
	if r == nil || r.epochDuration == nil {
		return
	}
	r.epochDuration.WithLabelValues(normalizeLabel(trigger)).Observe(d.Seconds())
	r.epochRuns.WithLabelValues("committed").Inc()
	r.transactions.Add(float64(txs))
	r.bankruptcies.Add(float64(bankruptcies))
	r.latestEpoch.Set(float64(epoch))
}

// EpochFailed counts a run that did not commit.
func (r *Recorder) EpochFailed(outcome string) {
	if r == nil || r.epochRuns == nil {
		return
	}
	r.epochRuns.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// NarrativeUnit counts one diary or post attempt.
func (r *Recorder) NarrativeUnit(kind string, ok bool) {
	if r == nil || r.narrativeUnits == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.narrativeUnits.WithLabelValues(normalizeLabel(kind), outcome).Inc()
}

// BetPlaced counts a placed bet.
func (r *Recorder) BetPlaced(prediction string) {
	if r == nil || r.betsPlaced == nil {
		return
	}
	r.betsPlaced.WithLabelValues(normalizeLabel(prediction)).Inc()
}

// BetSettled counts a settled bet.
func (r *Recorder) BetSettled(result string) {
	if r == nil || r.betsSettled == nil {
		return
	}
	r.betsSettled.WithLabelValues(normalizeLabel(result)).Inc()
}

// RateLimited counts a rejected request.
func (r *Recorder) RateLimited(scope string) {
	if r == nil || r.rateLimited == nil {
		return
	}
	r.rateLimited.WithLabelValues(normalizeLabel(scope)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
