package security

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetricsLabels_Empty(t *testing.T) {
	labels, err := ParseMetricsLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)
}

func TestParseMetricsLabels_Pairs(t *testing.T) {
	labels, err := ParseMetricsLabels("service=rag-service,region=eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{
		"service": "rag-service",
		"region":  "eu-west-1",
	}, labels)
}

func TestParseMetricsLabels_ExpandsEnvVars(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "staging")
	labels, err := ParseMetricsLabels("env=${DEPLOY_ENV}")
	require.NoError(t, err)
	assert.Equal(t, prometheus.Labels{"env": "staging"}, labels)
}

func TestParseMetricsLabels_RejectsMissingEquals(t *testing.T) {
	_, err := ParseMetricsLabels("service")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestParseMetricsLabels_RejectsBadKey(t *testing.T) {
	_, err := ParseMetricsLabels("bad-key=x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid label key")
}
