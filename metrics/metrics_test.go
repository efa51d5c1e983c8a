package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTransitionCountsPerEdge(t *testing.T) {
	before := testutil.ToFloat64(Transitions.WithLabelValues("milestone", "pending", "in_progress"))

	ObserveTransition("milestone", "pending", "in_progress")
	ObserveTransition("milestone", "pending", "in_progress")
	ObserveTransition("milestone", "in_progress", "completed")

	assert.Equal(t, before+2, testutil.ToFloat64(Transitions.WithLabelValues("milestone", "pending", "in_progress")))
}
