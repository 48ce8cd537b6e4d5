package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperationCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveOperation("shield", "ok", time.Now())
	m.ObserveOperation("shield", "ok", time.Now())
	m.ObserveOperation("unshield", "nullifier_already_used", time.Now())
	m.SetPoolTotals("p1", 190_000, 107_500)
	m.IncNullifier("p1")
	m.IncProofRejected("transfer")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("shield", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("unshield", "nullifier_already_used")))
	assert.Equal(t, 190_000.0, testutil.ToFloat64(m.TotalLocked.WithLabelValues("p1")))
	assert.Equal(t, 107_500.0, testutil.ToFloat64(m.FeesCollected.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NullifiersConsumed.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProofRejections.WithLabelValues("transfer")))
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
