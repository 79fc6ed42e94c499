package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	v, err := InitViper()
	require.NoError(t, err)
	v.Set("auth_secret", "test-secret")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "speechgw", cfg.Name)
	assert.Equal(t, 9322, cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "ws://127.0.0.1:9323", cfg.SegmenterBaseURL)
}

func TestLoadFailsValidationWhenAuthSecretMissing(t *testing.T) {
	v, err := InitViper()
	require.NoError(t, err)

	_, err = Load(v)
	assert.Error(t, err)
}

func TestPostgresDSNRendersExpectedFormat(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, DBName: "speechgw", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 dbname=speechgw user=u password=p sslmode=disable", cfg.DSN())
}

func TestPortStringRendersPort(t *testing.T) {
	cfg := AppConfig{Port: 8080}
	assert.Equal(t, "8080", cfg.PortString())
}
