package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Mode)
	assert.Equal(t, dir, cfg.WorkDir)
	assert.Equal(t, 25, cfg.MaxIterations)
	assert.Equal(t, 256*1024, cfg.Shell.BufferBytes)
	assert.Equal(t, 30*time.Minute, cfg.Shell.Retention.Std())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadJSONCWithComments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.jsonc", `{
		// plan first, ask later
		"mode": "plan",
		"maxIterations": 10,
		"shell": {"retention": "5m"}
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "plan", cfg.Mode)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 5*time.Minute, cfg.Shell.Retention.Std())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.yaml", `
mode: acceptEdits
writableDirs:
  - /tmp/scratch
log:
  level: debug
  pretty: true
shell:
  retention: 90s
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "acceptEdits", cfg.Mode)
	assert.Equal(t, []string{"/tmp/scratch"}, cfg.WritableDirs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, 90*time.Second, cfg.Shell.Retention.Std())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.json", `{"mode": "plan", "maxIterations": 10}`)

	t.Setenv("TOOLGATE_MODE", "bypassAll")
	t.Setenv("TOOLGATE_MAX_ITERATIONS", "7")
	t.Setenv("TOOLGATE_WRITABLE_DIRS", "/a, /b")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bypassAll", cfg.Mode)
	assert.Equal(t, 7, cfg.MaxIterations)
	assert.Equal(t, []string{"/a", "/b"}, cfg.WritableDirs)
}

func TestDotEnvLoaded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "TOOLGATE_LOG_LEVEL=warn\n")
	t.Setenv("TOOLGATE_LOG_LEVEL", "") // ensure godotenv's value is visible
	os.Unsetenv("TOOLGATE_LOG_LEVEL")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestInvalidMode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.json", `{"mode": "yolo"}`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mode")
}

func TestInvalidIterations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.json", `{"maxIterations": -1}`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestMalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "toolgate.json", `{not json`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestDurationDecoding(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1h30m"`)))
	assert.Equal(t, 90*time.Minute, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`45`)))
	assert.Equal(t, 45*time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"banana"`)))
}
