package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/config"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, config.VectorBackendPostgres, cfg.VectorBackend)
	assert.Equal(t, 300, cfg.EmbedMissingCap)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 30*time.Second, cfg.StageTimeout)
}

// unsetEnv clears key for the test and restores its previous state afterwards.
// godotenv never overrides a variable that is already set, even to "".
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	unsetEnv(t, "DB_HOST")
	unsetEnv(t, "EMBED_MISSING_CAP")
	content := []byte("DB_HOST=loaded-from-file\nEMBED_MISSING_CAP=120\n")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
	assert.Equal(t, 120, cfg.EmbedMissingCap)
}

func TestLoadConfig_EnvFileDoesNotLeak(t *testing.T) {
	unsetEnv(t, "EMBED_MISSING_CAP")
	t.Run("load", func(t *testing.T) {
		unsetEnv(t, "EMBED_MISSING_CAP")
		require.NoError(t, os.WriteFile(".env", []byte("EMBED_MISSING_CAP=120\n"), 0o644))
		defer os.Remove(".env")

		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, 120, cfg.EmbedMissingCap)
	})

	_, set := os.LookupEnv("EMBED_MISSING_CAP")
	assert.False(t, set)
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.EmbedMissingCap)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "milvus")

	_, err := config.Load()
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("W_VEC", "0.5")
	t.Setenv("W_FTS", "0")
	t.Setenv("STAGE_TIMEOUT", "5s")
	t.Setenv("VERIFICATION_TIMEOUT", "20s")
	t.Setenv("EVENTS_ENABLED", "true")
	t.Setenv("RERANK_PROVIDER", "jina")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, "jina", cfg.RerankProvider)

	r := cfg.Retrieval()
	assert.Equal(t, 0.5, r.Weights.Vec)
	assert.Equal(t, 0.0, r.Weights.FTS)
	assert.Equal(t, 300, r.EmbedCap)
	assert.Equal(t, 80, r.FallbackChunksPerPage)
	assert.Equal(t, 20, r.FallbackMaxPages)

	p := cfg.Pipeline()
	assert.Equal(t, 5*time.Second, p.StageTimeout)
	assert.Equal(t, 20*time.Second, p.StageTimeouts[pipeline.StageSkepticVerification])
	assert.Equal(t, 60*time.Second, p.StageTimeouts[pipeline.StageJudgment])

	s := cfg.Stages()
	assert.Equal(t, 3, s.Retry.Attempts)
	assert.Equal(t, 200*time.Millisecond, s.Retry.InitialInterval)
	assert.Equal(t, 6, s.SelectK)
}

func TestDSN(t *testing.T) {
	cfg := config.Config{DBHost: "h", DBPort: 5433, DBUser: "u", DBPass: "p", DBName: "d"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
