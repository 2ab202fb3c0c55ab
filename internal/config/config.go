package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for rtcdoctor.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	ICE         ICEConfig         `mapstructure:"ice"`
	Server      ServerConfig      `mapstructure:"server"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

type StorageConfig struct {
	// DBPath overrides ~/.local/share/rtcdoctor/rtcdoctor.db when set.
	DBPath string `mapstructure:"db_path"`
}

// DiagnosticsConfig mirrors the orchestrator's input configuration.
type DiagnosticsConfig struct {
	Audio                    bool          `mapstructure:"audio"`
	Video                    bool          `mapstructure:"video"`
	SkipPermissionsCheck     bool          `mapstructure:"skip_permissions_check"`
	UseLegacyPermissionCheck bool          `mapstructure:"use_legacy_permission_check"`
	IntegrationTestMode      bool          `mapstructure:"integration_test_mode"`
	MaxPortAttempts          int           `mapstructure:"max_port_attempts"`
	RetryInterval            time.Duration `mapstructure:"retry_interval"`
	ProbeTimeout             time.Duration `mapstructure:"probe_timeout"`
	Media                    MediaConfig   `mapstructure:"media"`
}

type MediaConfig struct {
	DeviceRoot   string        `mapstructure:"device_root"`
	AudioDevice  string        `mapstructure:"audio_device"`
	VideoDevice  string        `mapstructure:"video_device"`
	ScreenStream bool          `mapstructure:"screen_stream"`
	CaptureTime  time.Duration `mapstructure:"capture_time"`
	// Resolutions overrides the advanced camera sweep, as WxH strings.
	Resolutions []string `mapstructure:"resolutions"`
}

// ResolutionList parses Resolutions. An empty list means the built-in sweep.
func (m MediaConfig) ResolutionList() ([][2]int, error) {
	out := make([][2]int, 0, len(m.Resolutions))
	for _, r := range m.Resolutions {
		w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(r)), "x")
		width, werr := strconv.Atoi(w)
		height, herr := strconv.Atoi(h)
		if !ok || werr != nil || herr != nil || width <= 0 || height <= 0 {
			return nil, fmt.Errorf("diagnostics.media.resolutions: %q is not WxH", r)
		}
		out = append(out, [2]int{width, height})
	}
	return out, nil
}

type ICEConfig struct {
	Servers    []string      `mapstructure:"servers"`
	Username   string        `mapstructure:"username"`
	Credential string        `mapstructure:"credential"`
	ServersURL string        `mapstructure:"servers_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	// Local UDP ports are picked from [PortMin, PortMax]. Zero means any.
	PortMin         int           `mapstructure:"port_min"`
	PortMax         int           `mapstructure:"port_max"`
	BandwidthWindow time.Duration `mapstructure:"bandwidth_window"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ScheduleConfig struct {
	Every time.Duration `mapstructure:"every"`
}

// Load reads an optional .env file, the optional YAML file at path (or
// config.yaml in searchDir), then overlays environment variables with the
// RTCDOCTOR_ prefix (e.g. RTCDOCTOR_DIAGNOSTICS_VIDEO=false).
func Load(path, searchDir string) (*Config, error) {
	// Missing .env is fine; real deployments use real env vars.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RTCDOCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	case searchDir != "":
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(searchDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config in %s: %w", searchDir, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the orchestrator cannot work with.
func (c *Config) Validate() error {
	if c.Diagnostics.MaxPortAttempts < 1 {
		return fmt.Errorf("diagnostics.max_port_attempts must be at least 1, got %d", c.Diagnostics.MaxPortAttempts)
	}
	if c.Diagnostics.RetryInterval < 0 {
		return fmt.Errorf("diagnostics.retry_interval must not be negative")
	}
	if c.Diagnostics.ProbeTimeout < 0 {
		return fmt.Errorf("diagnostics.probe_timeout must not be negative")
	}
	if c.ICE.PortMin < 0 || c.ICE.PortMax > 65535 || c.ICE.PortMin > c.ICE.PortMax {
		return fmt.Errorf("ice port range %d-%d is invalid", c.ICE.PortMin, c.ICE.PortMax)
	}
	if _, err := c.Diagnostics.Media.ResolutionList(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.db_path", "")

	v.SetDefault("diagnostics.audio", true)
	v.SetDefault("diagnostics.video", true)
	v.SetDefault("diagnostics.skip_permissions_check", false)
	v.SetDefault("diagnostics.use_legacy_permission_check", false)
	v.SetDefault("diagnostics.integration_test_mode", false)
	v.SetDefault("diagnostics.max_port_attempts", 20)
	v.SetDefault("diagnostics.retry_interval", time.Duration(0))
	v.SetDefault("diagnostics.probe_timeout", time.Duration(0))

	v.SetDefault("diagnostics.media.device_root", "/dev")
	v.SetDefault("diagnostics.media.audio_device", "default")
	v.SetDefault("diagnostics.media.video_device", "")
	v.SetDefault("diagnostics.media.screen_stream", false)
	v.SetDefault("diagnostics.media.capture_time", 2*time.Second)

	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("ice.username", "")
	v.SetDefault("ice.credential", "")
	v.SetDefault("ice.servers_url", "")
	v.SetDefault("ice.timeout", 3*time.Second)
	v.SetDefault("ice.retries", 2)
	v.SetDefault("ice.port_min", 16384)
	v.SetDefault("ice.port_max", 32767)
	v.SetDefault("ice.bandwidth_window", 2*time.Second)

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("schedule.every", 15*time.Minute)
}
