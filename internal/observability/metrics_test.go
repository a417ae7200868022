package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountOutcome(t *testing.T) {
	before := testutil.ToFloat64(candidates.WithLabelValues("enriched"))

	CountOutcome("enriched")
	CountOutcome("enriched")
	CountOutcome("failed")

	assert.Equal(t, before+2, testutil.ToFloat64(candidates.WithLabelValues("enriched")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(candidates.WithLabelValues("failed")), 1.0)
}

func TestAddRateWait(t *testing.T) {
	before := testutil.ToFloat64(rateWaitSeconds)

	AddRateWait(1500 * time.Millisecond)

	assert.InDelta(t, before+1.5, testutil.ToFloat64(rateWaitSeconds), 0.001)
}

func TestSetQueueDepth(t *testing.T) {
	SetQueueDepth(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(queueDepth))

	SetQueueDepth(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(queueDepth))
}

func TestCountAPICall(t *testing.T) {
	before := testutil.ToFloat64(apiCalls.WithLabelValues("get_user"))

	CountAPICall("get_user")

	assert.Equal(t, before+1, testutil.ToFloat64(apiCalls.WithLabelValues("get_user")))
}
