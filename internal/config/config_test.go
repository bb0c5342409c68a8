package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/pkg/types"
)

// isolate points every config source at empty temp locations.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	for _, key := range []string{
		"CLIAGENT_CONFIG", "CLIAGENT_CONFIG_CONTENT", "CLIAGENT_MODEL", "CLIAGENT_ISOLATION",
		"CLIAGENT_IDLE_TIMEOUT", "CLIAGENT_LOG_LEVEL", "CLIAGENT_STORAGE", "CLIAGENT_PERMISSION",
		"CLIAGENT_CONFIG_DIR", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Empty(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Model)
	assert.NotNil(t, cfg.Provider)
	assert.Nil(t, cfg.Permission)
}

func TestLoad_ProjectJSONC(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "cliagent.jsonc"), `{
		// comments are fine
		"model": "anthropic/claude-sonnet-4-20250514",
		"isolation": true,
		"idleTimeout": "10m",
		"workspace": ["/src/app"],
		"permission": {
			"confirmEdits": ["**/go.mod"],
			"shell": {"git status": "allow"},
		},
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.True(t, cfg.Isolation)
	assert.Equal(t, []string{"/src/app"}, cfg.Workspace)
	require.NotNil(t, cfg.Permission)
	assert.Equal(t, []string{"**/go.mod"}, cfg.Permission.ConfirmEdits)
	assert.Equal(t, map[string]string{"git status": "allow"}, cfg.Permission.Shell)

	timeout, err := IdleTimeout(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, timeout)
}

func TestLoad_YAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, ".cliagent", "cliagent.yaml"), `
model: openai/gpt-4o
logLevel: DEBUG
provider:
  openai:
    apiKey: sk-yaml
    maxTokens: 2048
permission:
  shell:
    "go test *": allow
    "rm *": deny
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "sk-yaml", cfg.Provider["openai"].APIKey)
	assert.Equal(t, 2048, cfg.Provider["openai"].MaxTokens)
	assert.Equal(t, "deny", cfg.Permission.Shell["rm *"])
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	home := isolate(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(home, ".config", "cliagent", "cliagent.json"), `{
		"model": "global/model",
		"logLevel": "WARN",
		"permission": {"shell": {"ls": "allow"}}
	}`)
	writeFile(t, filepath.Join(dir, "cliagent.json"), `{
		"model": "project/model",
		"permission": {"shell": {"git *": "allow"}}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "project/model", cfg.Model)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, map[string]string{"ls": "allow", "git *": "allow"}, cfg.Permission.Shell)
}

func TestLoad_Interpolation(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("MY_TEST_KEY", "sk-from-env")

	writeFile(t, filepath.Join(dir, "prompt.txt"), "line \"one\"\nline two\n")
	writeFile(t, filepath.Join(dir, "cliagent.json"), `{
		"provider": {"anthropic": {"apiKey": "{env:MY_TEST_KEY}", "baseURL": "{file:prompt.txt}"}}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "line \"one\"\nline two", cfg.Provider["anthropic"].BaseURL)
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "CLIAGENT_MODEL=openai/from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("CLIAGENT_MODEL") })
	os.Unsetenv("CLIAGENT_MODEL")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai/from-dotenv", cfg.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cliagent.json"), `{"model": "file/model"}`)

	t.Setenv("CLIAGENT_MODEL", "env/model")
	t.Setenv("CLIAGENT_ISOLATION", "true")
	t.Setenv("CLIAGENT_IDLE_TIMEOUT", "90s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("CLIAGENT_PERMISSION", `{"confirmEdits": []}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env/model", cfg.Model)
	assert.True(t, cfg.Isolation)
	assert.Equal(t, "sk-ant", cfg.Provider["anthropic"].APIKey)
	require.NotNil(t, cfg.Permission)
	assert.NotNil(t, cfg.Permission.ConfirmEdits)
	assert.Empty(t, cfg.Permission.ConfirmEdits)

	timeout, err := IdleTimeout(cfg)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, timeout)
}

func TestLoad_InlineContent(t *testing.T) {
	isolate(t)
	t.Setenv("CLIAGENT_CONFIG_CONTENT", `{"model": "inline/model", "storage": "/tmp/store"}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "inline/model", cfg.Model)
	assert.Equal(t, "/tmp/store", StorageDir(cfg))
}

func TestLoad_InvalidFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cliagent.json"), `{"model": `)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_InvalidIsolationEnv(t *testing.T) {
	isolate(t)
	t.Setenv("CLIAGENT_ISOLATION", "maybe")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "CLIAGENT_ISOLATION")
}

func TestIdleTimeout(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"5m", 5 * time.Minute, false},
		{"soon", 0, true},
		{"-1m", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := IdleTimeout(&types.Config{IdleTimeout: tt.value})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPaths(t *testing.T) {
	home := isolate(t)

	p := GetPaths()
	assert.Equal(t, filepath.Join(home, ".config", "cliagent"), p.Config)
	assert.Equal(t, filepath.Join(home, ".local", "share", "cliagent", "storage"), p.StoragePath())
	assert.Equal(t, filepath.Join(home, ".config", "cliagent", "cliagent.json"), GlobalConfigPath())
	assert.Equal(t, filepath.Join("/proj", ".cliagent", "cliagent.json"), ProjectConfigPath("/proj"))
	assert.Equal(t, p.Config, GetConfigDir())

	t.Setenv("CLIAGENT_CONFIG_DIR", "/custom")
	assert.Equal(t, "/custom", GetConfigDir())
}

func TestSave(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "cliagent.json")

	require.NoError(t, Save(&types.Config{Model: "a/b"}, path))

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "a/b", cfg.Model)
}
