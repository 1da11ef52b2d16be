package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twivo/twivo-media/src/pkg/events"
)

func TestHandleCountsOutcomes(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.Handle(events.Event{Kind: events.KindUploadCompleted, Size: 2048, Duration: 20 * time.Millisecond})
	m.Handle(events.Event{Kind: events.KindUploadRejected, Reason: "bad-format"})
	m.Handle(events.Event{Kind: events.KindUploadRejected, Reason: "bad-format"})
	m.Handle(events.Event{Kind: events.KindError})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("completed", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues("rejected", "bad-format")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publisherErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.artifactBytes))
}

func TestUploadDurationIsExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.Handle(events.Event{Kind: events.KindUploadCompleted, Duration: 3 * time.Second})
	m.Handle(events.Event{Kind: events.KindUploadCompleted})

	count, err := testutil.GatherAndCount(reg, "twivo_media_upload_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, testutil.CollectAndCount(m.uploadDuration))
}

func TestRateLimitCounters(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.ObserveRateLimit("allowed")
	m.ObserveRateLimit("denied")
	m.IncRateLimitStoreError()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimit.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitStoreErr))
}

func TestTrackInflight(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	done := m.TrackInflight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncRateLimitStoreError()
	assert.Equal(t, 1.0, testutil.ToFloat64(second.rateLimitStoreErr))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRateLimit("allowed")
	m.IncRateLimitStoreError()
	m.TrackInflight()()
	m.Handle(events.Event{Kind: events.KindUploadCompleted})
}
