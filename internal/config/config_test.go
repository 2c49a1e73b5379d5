package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "")
	setEnv(t, "DUPLICATE_WINDOW_DAYS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDuplicateWindowDays, cfg.DuplicateWindowDays)
	assert.Equal(t, DefaultDuplicateTolerance, cfg.DuplicateTolerance)
	assert.Equal(t, DefaultRiskScoreTimeout, cfg.RiskScoreTimeout)
	assert.True(t, cfg.SeedDefaultRules)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "DUPLICATE_WINDOW_DAYS", "14")
	setEnv(t, "RISK_SCORE_TIMEOUT", "500ms")
	setEnv(t, "SEED_DEFAULT_RULES", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 14, cfg.DuplicateWindowDays)
	assert.Equal(t, 500*time.Millisecond, cfg.RiskScoreTimeout)
	assert.False(t, cfg.SeedDefaultRules)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				Env:                 "development",
				DuplicateWindowDays: 30,
				DuplicateTolerance:  0.01,
				RiskScoreTimeout:    time.Second,
			},
			wantErr: "",
		},
		{
			name: "zero duplicate window",
			config: Config{
				Env:                 "development",
				DuplicateWindowDays: 0,
				DuplicateTolerance:  0.01,
				RiskScoreTimeout:    time.Second,
			},
			wantErr: "DUPLICATE_WINDOW_DAYS",
		},
		{
			name: "tolerance out of range",
			config: Config{
				Env:                 "development",
				DuplicateWindowDays: 30,
				DuplicateTolerance:  1.5,
				RiskScoreTimeout:    time.Second,
			},
			wantErr: "DUPLICATE_TOLERANCE",
		},
		{
			name: "production without admin secret",
			config: Config{
				Env:                 "production",
				DuplicateWindowDays: 30,
				DuplicateTolerance:  0.01,
				RiskScoreTimeout:    time.Second,
			},
			wantErr: "ADMIN_SECRET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "2s")
	setEnv(t, "TEST_INVALID", "not_a_duration")

	assert.Equal(t, 2*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("NONEXISTENT_VAR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_INVALID", time.Minute)) // Falls back on parse error
}
