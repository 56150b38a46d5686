package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.Secret)
	assert.Empty(t, cfg.Auth.AdminPassword)
}

// unsetEnv clears keys for the test; an empty but set variable would
// override envconfig defaults.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "STORE_BACKEND", "USE_TRANSACTIONS", "LOCK_TTL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.False(t, cfg.Store.UseTransactions)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, ":8080", cfg.Address())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "Mongo")
	t.Setenv("MONGO_URI", "mongodb://db:27017/?replicaSet=rs0")
	t.Setenv("USE_TRANSACTIONS", "true")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, BackendMongo, cfg.Store.Backend)
	assert.True(t, cfg.Store.UseTransactions)
	assert.Equal(t, 30*time.Minute, cfg.Auth.AccessTokenTTL)
}

func TestLoadRejectsIncompleteBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	unsetEnv(t, "DATABASE_URL")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_BACKEND", "cassandra")
	_, err = Load()
	assert.Error(t, err)
}
