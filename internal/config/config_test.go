package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TOKEN_HEADERS", "")
	t.Setenv("ENABLE_BACKEND_TOKEN_VALIDATION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.False(t, cfg.Auth.BackendValidation)
	assert.Equal(t, []string{"Authorization", "X-Access-Token", "X-JWT-Assertion"}, cfg.Auth.TokenHeaders)
	assert.Equal(t, 8*time.Second, cfg.CDP.Timeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("AUTH_TIMEOUT", "90")
	t.Setenv("CDP_TIMEOUT", "10s")
	t.Setenv("ENABLE_BACKEND_TOKEN_VALIDATION", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.Origins)
	assert.Equal(t, 90*time.Second, cfg.Agent.AuthTimeout)
	assert.Equal(t, 10*time.Second, cfg.CDP.Timeout)
	assert.True(t, cfg.Auth.BackendValidation)
}

func TestLoadRejectsValidationWithoutKeys(t *testing.T) {
	t.Setenv("ENABLE_BACKEND_TOKEN_VALIDATION", "true")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())

	d.URL = "postgres://u:p@db/n"
	assert.Equal(t, "postgres://u:p@db/n", d.DSN())
}
