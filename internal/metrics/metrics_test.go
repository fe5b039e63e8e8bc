package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryIsIndependent(t *testing.T) {
	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "test"})

	first, err := NewRegistry(extra)
	require.NoError(t, err)
	_, err = NewRegistry()
	require.NoError(t, err, "service collectors can back more than one registry")

	RealmListRequests.Inc()
	families, err := first.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["realmd_realm_list_requests_total"])
	assert.True(t, names["extra_total"])
}

func TestLabelledCounters(t *testing.T) {
	before := testutil.ToFloat64(LoginAttempts.WithLabelValues("ok"))
	LoginAttempts.WithLabelValues("ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LoginAttempts.WithLabelValues("ok")))
}
