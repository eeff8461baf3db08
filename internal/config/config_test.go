package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "MOONSHOT_API_KEY", cfg.APIKeyEnv)
	assert.Equal(t, "en", cfg.SourceLang)
	assert.Equal(t, "zh-CN", cfg.TargetLang)
	assert.Equal(t, 8000, cfg.MaxChunkChars)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, "filtered", cfg.GlossaryMode)
	assert.Equal(t, "headings", cfg.OutlineMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	// 切到空目录并改写 HOME，避免捡到开发机上的真实配置文件
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	restore := chdir(t, tmp)
	defer restore()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxChunkChars, cfg.MaxChunkChars)
	assert.Equal(t, Default().GlossaryMode, cfg.GlossaryMode)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	content := "" +
		"model_id: my-model\n" +
		"max_chunk_chars: 4000\n" +
		"concurrency: 7\n" +
		"outline_mode: full\n" +
		"format_output: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "my-model", cfg.ModelID)
	assert.Equal(t, 4000, cfg.MaxChunkChars)
	assert.Equal(t, 7, cfg.Concurrency)
	assert.Equal(t, "full", cfg.OutlineMode)
	assert.True(t, cfg.FormatOutput)
	// 文件没写的键保持默认
	assert.Equal(t, "zh-CN", cfg.TargetLang)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestLoadInvalidValuesRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("glossary_mode: loose\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "glossary_mode")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{"Zero Chunk Size", func(c *Config) { c.MaxChunkChars = 0 }, "max_chunk_chars"},
		{"Negative Concurrency", func(c *Config) { c.Concurrency = -1 }, "concurrency"},
		{"Zero Timeout", func(c *Config) { c.RequestTimeout = 0 }, "request_timeout"},
		{"Zero Retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"Bad Glossary Mode", func(c *Config) { c.GlossaryMode = "sometimes" }, "glossary_mode"},
		{"Bad Outline Mode", func(c *Config) { c.OutlineMode = "terse" }, "outline_mode"},
		{"Empty Source Lang", func(c *Config) { c.SourceLang = "" }, "source_lang"},
		{"Empty Target Lang", func(c *Config) { c.TargetLang = "" }, "target_lang"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(previous) }
}
