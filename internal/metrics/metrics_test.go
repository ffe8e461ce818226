package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(SampleAnomalies.WithLabelValues("duplicate_user"))
	SampleAnomalies.WithLabelValues("duplicate_user").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SampleAnomalies.WithLabelValues("duplicate_user")))
}

func TestObserveQuery(t *testing.T) {
	ObserveQuery("lookup_user", time.Now().Add(-10*time.Millisecond))
	assert.Equal(t, 1, testutil.CollectAndCount(GraphQueryDuration))
}

func TestGauges(t *testing.T) {
	RunningLoss.WithLabelValues("train").Set(0.25)
	assert.Equal(t, 0.25, testutil.ToFloat64(RunningLoss.WithLabelValues("train")))
}
