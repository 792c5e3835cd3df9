package metrics

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/pantrysync/internal/client/models"
	"github.com/dmitrijs2005/pantrysync/internal/client/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReplayed(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Replayed(models.MutationUpdate, queue.OutcomeSuccess, 10*time.Millisecond)
	m.Replayed(models.MutationUpdate, queue.OutcomeSuccess, 20*time.Millisecond)
	m.Replayed(models.MutationCreate, queue.OutcomeRetry, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Replays.WithLabelValues("update", queue.OutcomeSuccess.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Replays.WithLabelValues("create", queue.OutcomeRetry.String())))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ReplayDuration))
}

func TestPendingChanged(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.PendingChanged(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Pending))
	m.PendingChanged(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pending))
}

func TestStateChanged(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.StateChanged("", "connecting")
	m.StateChanged("connecting", "connected")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.RealtimeState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RealtimeState.WithLabelValues("connected")))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Reconnecting()
	m.Reconnecting()
	m.EchoIgnored("update")
	m.Invalidated("reconnect")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EchoSuppressed.WithLabelValues("update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invalidations.WithLabelValues("reconnect")))
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
