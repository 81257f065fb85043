package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Heartbeat.ViewerActive)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.ClientConnected)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 1200, cfg.RateLimit.IPPerMinute)
	assert.Equal(t, 40, cfg.RateLimit.IPBurst)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eatrack.yaml")
	yml := `
port: "9090"
db_path: /var/lib/eatrack.db
heartbeat:
  viewer_active: 90s
rate_limit:
  ea_per_minute: 120
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("PORT", "7070")
	t.Setenv("CLIENT_CONNECTED_THRESHOLD", "45s")
	t.Setenv("IP_RATE_LIMIT_PER_MINUTE", "300")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "/var/lib/eatrack.db", cfg.DBPath)
	assert.Equal(t, 90*time.Second, cfg.Heartbeat.ViewerActive)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.ClientConnected)
	assert.Equal(t, 120, cfg.RateLimit.EAPerMinute)
	assert.Equal(t, 300, cfg.RateLimit.IPPerMinute)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("VIEWER_ACTIVE_THRESHOLD", "soon")

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Heartbeat.ViewerActive = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimit.IPPerMinute = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.DBPath = ""
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
