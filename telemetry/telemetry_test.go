package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AMPSent.Add(3)
	m.GuardDecisions.WithLabelValues("Allowed").Inc()
	m.CircuitBreakerOpen.Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawSent bool
	for _, f := range families {
		if f.GetName() == "aura_amp_sent_total" {
			sawSent = true
			require.Equal(t, float64(3), f.Metric[0].GetCounter().GetValue())
		}
	}
	require.True(t, sawSent)
}
