package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCountsEpochs(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveEpoch("admin", 4, 37, 1, 120*time.Millisecond)
	r.EpochFailed("conflict")
	r.NarrativeUnit("diary", true)
	r.NarrativeUnit("diary", false)
	r.BetPlaced("up")
	r.BetSettled("win")

	assert.Equal(t, 37.0, testutil.ToFloat64(r.transactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.bankruptcies))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.latestEpoch))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.epochRuns.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.epochRuns.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.narrativeUnits.WithLabelValues("diary", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.betsPlaced.WithLabelValues("up")))

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveEpoch("", 1, 1, 1, time.Second)
	r.EpochFailed("")
	r.NarrativeUnit("", false)
	r.BetPlaced("")
	r.BetSettled("")
	r.RateLimited("")

	empty := New(nil)
	empty.ObserveEpoch("admin", 1, 1, 1, time.Second)
	empty.RateLimited("bets")
}
