package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		Environment:                   "development",
		DatabaseURL:                   "postgres://localhost:5432/asyncgate",
		DefaultLeaseTTLSeconds:        120,
		MaxLeaseTTLSeconds:            1800,
		MaxLeaseLifetimeSeconds:       7200,
		DefaultListLimit:              50,
		MaxListLimit:                  200,
		ObligationCandidateMultiplier: 3,
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ASYNCGATE_DATABASE_URL", "postgres://localhost:5432/asyncgate")
	t.Setenv("ASYNCGATE_ENVIRONMENT", "staging")
	t.Setenv("ASYNCGATE_MAX_CLAIM_TASKS", "25")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost:5432/asyncgate", s.DatabaseURL)
	assert.Equal(t, "staging", s.Environment)
	assert.Equal(t, 25, s.MaxClaimTasks)

	// Untouched knobs keep their defaults.
	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Equal(t, 120*time.Second, s.DefaultLeaseTTL())
	assert.Equal(t, 30*time.Minute, s.MaxLeaseTTL())
	assert.Equal(t, 10*time.Second, s.SweepInterval())
	assert.Equal(t, 2, s.DefaultMaxAttempts)
	assert.Equal(t, 15, s.DefaultRetryBackoffSeconds)
	assert.Equal(t, 900, s.MaxRetryBackoffSeconds)
	assert.Equal(t, 64*1024, s.MaxBodyBytes)
	assert.Equal(t, 100, s.MaxArtifacts)
	assert.False(t, s.StrictLocatability)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("ASYNCGATE_DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validSettings().Validate())

	s := validSettings()
	s.Environment = "prod"
	assert.Error(t, s.Validate(), "environment must be one of the known names")

	s = validSettings()
	s.MaxLeaseTTLSeconds = 60
	assert.Error(t, s.Validate(), "max lease TTL below default")

	s = validSettings()
	s.MaxLeaseLifetimeSeconds = 600
	assert.Error(t, s.Validate(), "lifetime below single-lease TTL cap")

	s = validSettings()
	s.MaxListLimit = 10
	assert.Error(t, s.Validate(), "max list limit below default")

	s = validSettings()
	s.ObligationCandidateMultiplier = 0
	assert.Error(t, s.Validate())
}
