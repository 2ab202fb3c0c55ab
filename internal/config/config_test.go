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
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Diagnostics.Audio)
	assert.True(t, cfg.Diagnostics.Video)
	assert.Equal(t, 20, cfg.Diagnostics.MaxPortAttempts)
	assert.Equal(t, time.Duration(0), cfg.Diagnostics.ProbeTimeout)
	assert.Equal(t, "/dev", cfg.Diagnostics.Media.DeviceRoot)
	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Every)
	assert.NotEmpty(t, cfg.ICE.Servers)
	assert.Equal(t, 16384, cfg.ICE.PortMin)
	assert.Equal(t, 32767, cfg.ICE.PortMax)
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rtcdoctor.yaml")
	yaml := `
diagnostics:
  video: false
  max_port_attempts: 5
  retry_interval: 250ms
  media:
    resolutions: [640x480, 1280X720]
ice:
  servers:
    - turn:turn.example.com:3478?transport=udp
  username: alice
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("RTCDOCTOR_LOG_LEVEL", "debug")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.False(t, cfg.Diagnostics.Video)
	assert.True(t, cfg.Diagnostics.Audio)
	assert.Equal(t, 5, cfg.Diagnostics.MaxPortAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Diagnostics.RetryInterval)
	assert.Equal(t, []string{"turn:turn.example.com:3478?transport=udp"}, cfg.ICE.Servers)
	assert.Equal(t, "alice", cfg.ICE.Username)
	assert.Equal(t, "debug", cfg.Log.Level)

	res, err := cfg.Diagnostics.Media.ResolutionList()
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{640, 480}, {1280, 720}}, res)
}

func TestLoadSearchDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  format: json\n"), 0o600))

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero attempts", func(c *Config) { c.Diagnostics.MaxPortAttempts = 0 }, true},
		{"negative interval", func(c *Config) { c.Diagnostics.RetryInterval = -time.Second }, true},
		{"negative timeout", func(c *Config) { c.Diagnostics.ProbeTimeout = -time.Second }, true},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"inverted port range", func(c *Config) { c.ICE.PortMin, c.ICE.PortMax = 40000, 30000 }, true},
		{"port out of range", func(c *Config) { c.ICE.PortMax = 70000 }, true},
		{"bad resolution", func(c *Config) { c.Diagnostics.Media.Resolutions = []string{"1280by720"} }, true},
		{"zero resolution", func(c *Config) { c.Diagnostics.Media.Resolutions = []string{"0x720"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Log:         LogConfig{Level: "info", Format: "text"},
				Diagnostics: DiagnosticsConfig{MaxPortAttempts: 20},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
