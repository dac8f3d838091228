package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)
	m.AddFlagged("scan", 3)
	m.AddFlagged("scan", 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("scan")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.flagged.WithLabelValues("scan")))
}

func TestNilMetricsPassErrorsThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("scan").End(boom), boom)
	m.AddFlagged("scan", 1)
}
