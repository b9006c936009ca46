package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultSplitSize), cfg.SplitSize)
	assert.Equal(t, int64(3), cfg.MaxConcurrent)
	assert.Equal(t, 8, cfg.ProgressMaxUpdates)
	assert.Equal(t, 8000, cfg.ListenPort)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"bot_token": "tok",
		"chat_id": "-100123",
		"split_size": 1048576,
		"max_concurrent": 5
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tok", cfg.BotToken)
	assert.Equal(t, "-100123", cfg.ChatID)
	assert.Equal(t, int64(1048576), cfg.SplitSize)
	assert.Equal(t, int64(5), cfg.MaxConcurrent)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(DefaultChunkSize), cfg.ChunkSize)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{broken`), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	t.Setenv("LEECH_SPLIT_SIZE", "2048")
	t.Setenv("PORT", "9090")
	t.Setenv("LEECH_DUMP_CHAT", "-100999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.BotToken)
	assert.Equal(t, int64(2048), cfg.SplitSize)
	assert.Equal(t, 9090, cfg.ListenPort)
	assert.Equal(t, "-100999", cfg.ChatID)
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("LEECH_SPLIT_SIZE", "not-a-number")
	t.Setenv("PORT", "-5")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, int64(DefaultSplitSize), cfg.SplitSize)
	assert.Equal(t, 8000, cfg.ListenPort)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing token must fail")

	cfg.BotToken = "tok"
	assert.Error(t, cfg.Validate(), "missing chat must fail")

	cfg.ChatID = "-100123"
	assert.NoError(t, cfg.Validate())

	cfg.SplitSize = 0
	assert.Error(t, cfg.Validate())
}
