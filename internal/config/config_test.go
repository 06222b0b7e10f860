package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	v := viper.New()
	v.Set("http.addr", ":9090")
	v.Set("queues.max_retry", 5)

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, 5, cfg.Queues.MaxRetry)
	// Untouched sections keep defaults.
	require.Equal(t, time.Minute, cfg.Budget.RefillInterval)
	require.Equal(t, "Europe/Berlin", cfg.Schedules.Timezone)
}

func TestValidateRejectsInvertedDelayWindow(t *testing.T) {
	cfg := Default()
	cfg.Domains.Default = DomainWindow{MinDelay: 10 * time.Second, MaxDelay: time.Second}
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroRetry(t *testing.T) {
	cfg := Default()
	cfg.Queues.MaxRetry = 0
	require.Error(t, cfg.Validate())
}
