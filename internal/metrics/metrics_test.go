package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TriggersFired.Inc()
	m.TriggersFired.Inc()
	m.LastDuration.Set(2.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TriggersFired))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.LastDuration))
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	New(prometheus.NewRegistry())
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
	})
}

func TestServerExposesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DurationsDelivered.Inc()

	srv := NewServer("127.0.0.1:0", reg)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "stimsync_durations_delivered_total 1"))

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
