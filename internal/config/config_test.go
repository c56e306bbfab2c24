package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.OrderLimit)
	assert.Equal(t, 2.0, cfg.BurstMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.BlockDuration)
	assert.Contains(t, cfg.ExemptCIDRs, "127.0.0.0/8")
	assert.Contains(t, cfg.ExemptPathPrefixes, "/healthz")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEDUP_WINDOW", "2m")
	t.Setenv("RATE_LIMIT_ORDERS", "25")
	t.Setenv("RATE_LIMIT_BURST_MULTIPLIER", "1.5")
	t.Setenv("RATE_LIMIT_EXEMPT_PATHS", "/healthz, /internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.DedupWindow)
	assert.Equal(t, 25, cfg.OrderLimit)
	assert.Equal(t, 1.5, cfg.BurstMultiplier)
	assert.Equal(t, []string{"/healthz", "/internal"}, cfg.ExemptPathPrefixes)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-number"},
		{"bad window", "RATE_LIMIT_WINDOW", "sixty seconds"},
		{"multiplier below one", "RATE_LIMIT_BURST_MULTIPLIER", "0.5"},
		{"bad cidr", "RATE_LIMIT_EXEMPT_CIDRS", "300.0.0.0/8"},
		{"failure rate out of range", "BROKER_FAILURE_RATE", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsInvertedBrokerLatency(t *testing.T) {
	t.Setenv("BROKER_MIN_LATENCY", "100ms")
	t.Setenv("BROKER_MAX_LATENCY", "10ms")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKER_MAX_LATENCY")
}
