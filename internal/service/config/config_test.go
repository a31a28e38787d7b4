package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	t.Setenv("API_KEY", "")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5, cfg.Builder.PoolSize)
	assert.Equal(t, time.Minute, cfg.Builder.CleanFrequency.Std())
	assert.Equal(t, 5*time.Minute, cfg.Builder.MaxLifeCycle.Std())
	assert.Empty(t, cfg.Archives)
}

func TestFileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
builder:
  poolSize: 2
  cleanFrequency: 30s
  maxLifeCycle: 2m
archives:
  - id: main
    kind: qido
    default: true
    qidoURL: http://pacs.local/dicomweb
    wadoURL: http://pacs.local/wado
    transferSyntaxUID: 1.2.840.10008.1.2.4.50
    compressionRate: 80
  - id: index
    kind: db
    dsn: postgres://localhost/archive
    wadoURL: http://pacs.local/wado
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	t.Setenv("API_KEY", "secret")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.HTTPPort)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 2, cfg.Builder.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Builder.CleanFrequency.Std())
	assert.Equal(t, 2*time.Minute, cfg.Builder.MaxLifeCycle.Std())
	require.Len(t, cfg.Archives, 2)
	assert.True(t, cfg.Archives[0].Default)
	assert.Equal(t, "db", cfg.Archives[1].Kind)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"zero pool size", "builder: {poolSize: 0}"},
		{"archive without id", "archives: [{kind: qido, qidoURL: http://x, wadoURL: http://x}]"},
		{"duplicate archive id", `archives:
  - {id: a, kind: qido, qidoURL: "http://x", wadoURL: "http://x"}
  - {id: a, kind: qido, qidoURL: "http://x", wadoURL: "http://x"}`},
		{"unknown kind", "archives: [{id: a, kind: ftp, wadoURL: http://x}]"},
		{"qido without url", "archives: [{id: a, kind: qido, wadoURL: http://x}]"},
		{"db without dsn", "archives: [{id: a, kind: db, wadoURL: http://x}]"},
		{"missing wado url", "archives: [{id: a, kind: qido, qidoURL: http://x}]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			t.Setenv("CONFIG_FILE", path)
			t.Setenv("PORT", "")
			t.Setenv("API_KEY", "")

			_, err := NewConfigFromEnv()
			assert.Error(t, err)
		})
	}
}
