package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:test.db")
	t.Setenv("WORKER_ID", "w-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 60*time.Second, cfg.DedupTTL)
	assert.Equal(t, 3, cfg.PDF.MaxPages)
	assert.Equal(t, 20000, cfg.PDF.MaxChars)
	assert.Equal(t, 10*time.Second, cfg.PDF.Timeout)
	assert.Equal(t, "podio-files", cfg.Supabase.Bucket)
	assert.Equal(t, "w-test", cfg.Worker.ID)
	assert.False(t, cfg.Podio.Configured())
	assert.False(t, cfg.Supabase.Configured())
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://x")
	t.Setenv("DEDUP_TTL", "90000")
	t.Setenv("PDF_TIMEOUT", "2s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PODIO_OAUTH_ACCESS_TOKEN", "tok")
	t.Setenv("PODIO_POST_COMMENT", "yes")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.DedupTTL)
	assert.Equal(t, 2*time.Second, cfg.PDF.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.Podio.Configured())
	assert.True(t, cfg.Podio.PostComment)
	assert.Equal(t, "https://proj.supabase.co", cfg.Supabase.URL)
	assert.True(t, cfg.Supabase.Configured())
}
