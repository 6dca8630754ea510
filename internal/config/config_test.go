package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/govchat/internal/common"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("DB_DRIVER", "")

	cfg := Load()
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, time.Second, cfg.CrawlDelay)
	assert.Equal(t, "Canada.ca-ChatBot/1.0", cfg.UserAgent)
	assert.Equal(t, []string{"en", "fr"}, cfg.SupportedLanguages)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("CRAWL_DELAY", "250ms")
	t.Setenv("SUPPORTED_LANGUAGES", "fr-CA, en")
	t.Setenv("DEFAULT_LANGUAGE", "fr")

	cfg := Load()
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 250*time.Millisecond, cfg.CrawlDelay)
	assert.Equal(t, []string{"fr", "en"}, cfg.SupportedLanguages)
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadSizing(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	cfg := Load()

	cfg.ChunkOverlap = cfg.ChunkSize
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindConfiguration))

	cfg = Load()
	cfg.DefaultLanguage = "de"
	assert.True(t, common.IsKind(cfg.Validate(), common.KindConfiguration))

	cfg = Load()
	cfg.RetrievalTopK = cfg.RetrievalMaxK + 1
	assert.True(t, common.IsKind(cfg.Validate(), common.KindConfiguration))

	cfg = Load()
	cfg.AdminPasswordHash = "$2a$10$abc"
	cfg.JWTSecret = ""
	assert.True(t, common.IsKind(cfg.Validate(), common.KindConfiguration))
}
