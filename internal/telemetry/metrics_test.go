package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels(t *testing.T) {
	t.Setenv("CHAT_MIRROR_TEST_POD", "pod-1")
	labels, err := ParseMetricsLabels("service=chat-mirror,pod=${CHAT_MIRROR_TEST_POD}")
	require.NoError(t, err)
	require.Equal(t, prometheus.Labels{"service": "chat-mirror", "pod": "pod-1"}, labels)

	labels, err = ParseMetricsLabels("")
	require.NoError(t, err)
	require.Nil(t, labels)

	_, err = ParseMetricsLabels("novalue")
	require.Error(t, err)
	_, err = ParseMetricsLabels("1bad=x")
	require.Error(t, err)
}

func TestObserveHelpers(t *testing.T) {
	InitMetrics(prometheus.Labels{"service": "test"})

	before := testutil.ToFloat64(EventsApplied.WithLabelValues("messages.upsert", "ok"))
	ObserveEvent("messages.upsert", "ok")
	require.Equal(t, before+1, testutil.ToFloat64(EventsApplied.WithLabelValues("messages.upsert", "ok")))

	rows := testutil.ToFloat64(FlushedRows.WithLabelValues("messages"))
	AddFlushedRows("messages", 3)
	AddFlushedRows("messages", 0)
	require.Equal(t, rows+3, testutil.ToFloat64(FlushedRows.WithLabelValues("messages")))

	SetPendingPatches(7)
	require.Equal(t, float64(7), testutil.ToFloat64(PendingPatches))

	ObserveFlush(time.Now(), nil)
	ObserveFlush(time.Now(), errors.New("boom"))
}
