package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot(t *testing.T) {
	c := NewCollector()
	c.AddBytesIn(100)
	c.AddBytesOut(50)
	c.IncPublishes()
	c.IncPublishes()
	c.IncDeliveries()

	snap := c.Snapshot()
	assert.Equal(t, int64(100), snap.BytesIn)
	assert.Equal(t, int64(50), snap.BytesOut)
	assert.Equal(t, int64(2), snap.Publishes)
	assert.Equal(t, int64(1), snap.Deliveries)
	assert.Equal(t, int64(0), snap.Returns)
}

func TestPrometheusCollector(t *testing.T) {
	c := NewCollector()
	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(c))

	c.IncPublishes()
	c.IncConnectionFailures()

	expected := `
# HELP otterwire_publishes_total Messages published.
# TYPE otterwire_publishes_total counter
otterwire_publishes_total 1
# HELP otterwire_connection_failures_total Connections lost to protocol faults or heartbeat timeouts.
# TYPE otterwire_connection_failures_total counter
otterwire_connection_failures_total 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"otterwire_publishes_total", "otterwire_connection_failures_total"))
}
