package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Shortcut actions understood by the hotkey layer
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionCancel = "cancel"
	ActionToggle = "toggle"
)

var knownActions = []string{ActionStart, ActionStop, ActionCancel, ActionToggle}

// ErrInvalidSettings wraps configuration values that fail validation
var ErrInvalidSettings = errors.New("invalid settings")

// Audio backends
const (
	BackendAuto     = "auto"
	BackendSox      = "sox"
	BackendRec      = "rec"
	BackendArecord  = "arecord"
	BackendFFmpeg   = "ffmpeg"
	BackendPWRecord = "pw-record"
	BackendNative   = "native"
)

var knownBackends = []string{BackendAuto, BackendSox, BackendRec, BackendArecord, BackendFFmpeg, BackendPWRecord, BackendNative}

type Config struct {
	Audio     AudioConfig      `mapstructure:"audio" yaml:"audio"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
	Storage   StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	UI        UIConfig         `mapstructure:"ui" yaml:"ui"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
	Shortcuts []ShortcutConfig `mapstructure:"shortcuts" yaml:"shortcuts"`
}

type AudioConfig struct {
	Backend      string        `mapstructure:"backend" yaml:"backend"`
	Program      string        `mapstructure:"program" yaml:"program,omitempty"` // overrides the backend's default program path
	Device       string        `mapstructure:"device" yaml:"device,omitempty"`
	SampleRate   int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels     int           `mapstructure:"channels" yaml:"channels"`
	Format       string        `mapstructure:"format" yaml:"format"` // "wav", "flac"
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// MarshalYAML writes start_timeout in duration syntax ("5s") instead of nanoseconds
func (a AudioConfig) MarshalYAML() (any, error) {
	return struct {
		Backend      string `yaml:"backend"`
		Program      string `yaml:"program,omitempty"`
		Device       string `yaml:"device,omitempty"`
		SampleRate   int    `yaml:"sample_rate"`
		Channels     int    `yaml:"channels"`
		Format       string `yaml:"format"`
		StartTimeout string `yaml:"start_timeout"`
	}{a.Backend, a.Program, a.Device, a.SampleRate, a.Channels, a.Format, a.StartTimeout.String()}, nil
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type StorageConfig struct {
	Database string `mapstructure:"database" yaml:"database"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type UIConfig struct {
	Tray           bool `mapstructure:"tray" yaml:"tray"`
	MinimizeToTray bool `mapstructure:"minimize_to_tray" yaml:"minimize_to_tray"`
}

type LogConfig struct {
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

type ShortcutConfig struct {
	Action      string `mapstructure:"action" yaml:"action"`
	Key         string `mapstructure:"key" yaml:"key"`
	Description string `mapstructure:"description" yaml:"description"`
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultShortcuts returns the stock bindings
func DefaultShortcuts() []ShortcutConfig {
	return []ShortcutConfig{
		{Action: ActionStart, Key: "Ctrl+Shift+R", Description: "Start recording", Enabled: true},
		{Action: ActionStop, Key: "Ctrl+Shift+S", Description: "Stop recording", Enabled: true},
		{Action: ActionCancel, Key: "Ctrl+Shift+C", Description: "Cancel recording", Enabled: true},
	}
}

// Default returns the configuration used when no file exists
func Default() *Config {
	home := os.Getenv("HOME")
	return &Config{
		Audio: AudioConfig{
			Backend:      BackendAuto,
			SampleRate:   44100,
			Channels:     1,
			Format:       "wav",
			StartTimeout: 5 * time.Second,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.TempDir(), "memocapture"),
		},
		Storage: StorageConfig{
			Database: filepath.Join(home, ".local", "share", "memocapture", "tasks.db"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7878",
		},
		UI: UIConfig{
			Tray:           true,
			MinimizeToTray: true,
		},
		Shortcuts: DefaultShortcuts(),
	}
}

// DefaultPath is the config location used when --config is not given
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/memocapture.yaml")
}

// Load reads the configuration file, falling back to defaults for missing
// fields and for a missing file. Environment variables prefixed with
// MEMOCAPTURE_ override file values (e.g. MEMOCAPTURE_SERVER_ADDR).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("MEMOCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(cfg.Shortcuts) == 0 {
		cfg.Shortcuts = DefaultShortcuts()
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Storage.Database = expandPath(cfg.Storage.Database)
	cfg.Log.File = expandPath(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.program", d.Audio.Program)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.format", d.Audio.Format)
	v.SetDefault("audio.start_timeout", d.Audio.StartTimeout)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("storage.database", d.Storage.Database)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("ui.tray", d.UI.Tray)
	v.SetDefault("ui.minimize_to_tray", d.UI.MinimizeToTray)
	v.SetDefault("log.file", d.Log.File)
}

// Validate checks every section and returns the first problem found
func (c *Config) Validate() error {
	if err := ValidateAudio(c.Audio, "audio"); err != nil {
		return err
	}
	if c.Output.Directory == "" {
		return fmt.Errorf("output: 'directory' is required")
	}
	if c.Storage.Database == "" {
		return fmt.Errorf("storage: 'database' is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server: 'addr' is required")
	}
	return ValidateShortcuts(c.Shortcuts)
}

// ValidateAudio validates an audio section
func ValidateAudio(a AudioConfig, prefix string) error {
	if a.Backend == "" {
		return fmt.Errorf("%s: 'backend' is required", prefix)
	}
	if !contains(knownBackends, a.Backend) {
		return fmt.Errorf("%s: 'backend' must be one of %s, got: %s", prefix, strings.Join(knownBackends, ", "), a.Backend)
	}
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("%s: 'sample_rate' must be between 8000 and 192000, got: %d", prefix, a.SampleRate)
	}
	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("%s: 'channels' must be 1 or 2, got: %d", prefix, a.Channels)
	}
	if a.Format != "wav" && a.Format != "flac" {
		return fmt.Errorf("%s: 'format' must be 'wav' or 'flac', got: %s", prefix, a.Format)
	}
	if a.StartTimeout <= 0 {
		return fmt.Errorf("%s: 'start_timeout' must be > 0, got: %s", prefix, a.StartTimeout)
	}
	return nil
}

// ValidateShortcuts checks actions, key presence and that no two enabled
// bindings share a key combination. Key syntax is checked by the shortcut package.
func ValidateShortcuts(shortcuts []ShortcutConfig) error {
	seenActions := make(map[string]bool)
	seenKeys := make(map[string]string)

	for i, sc := range shortcuts {
		prefix := fmt.Sprintf("shortcuts[%d]", i)

		if sc.Action == "" {
			return fmt.Errorf("%s: 'action' is required", prefix)
		}
		if !contains(knownActions, sc.Action) {
			return fmt.Errorf("%s: 'action' must be one of %s, got: %s", prefix, strings.Join(knownActions, ", "), sc.Action)
		}
		if seenActions[sc.Action] {
			return fmt.Errorf("%s: duplicate action '%s'", prefix, sc.Action)
		}
		seenActions[sc.Action] = true

		if sc.Key == "" {
			return fmt.Errorf("%s: 'key' is required", prefix)
		}
		if !sc.Enabled {
			continue
		}
		norm := strings.ToLower(strings.ReplaceAll(sc.Key, " ", ""))
		if other, ok := seenKeys[norm]; ok {
			return fmt.Errorf("%s: key '%s' already bound to action '%s'", prefix, sc.Key, other)
		}
		seenKeys[norm] = sc.Action
	}
	return nil
}

// WriteDefault writes the default configuration to configFile. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(configFile string, force bool) error {
	if _, err := os.Stat(configFile); err == nil && !force {
		return fmt.Errorf("config file %s already exists", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	return os.WriteFile(configFile, out, 0o644)
}

// SaveShortcuts persists the shortcut list to configFile, keeping all other keys
func SaveShortcuts(configFile string, shortcuts []ShortcutConfig) error {
	if err := ValidateShortcuts(shortcuts); err != nil {
		return err
	}
	list := make([]map[string]any, 0, len(shortcuts))
	for _, sc := range shortcuts {
		list = append(list, map[string]any{
			"action":      sc.Action,
			"key":         sc.Key,
			"description": sc.Description,
			"enabled":     sc.Enabled,
		})
	}
	return updateConfigFile(configFile, map[string]any{"shortcuts": list})
}

// SaveAudio persists the audio section to configFile
func SaveAudio(configFile string, a AudioConfig) error {
	if err := ValidateAudio(a, "audio"); err != nil {
		return err
	}
	return updateConfigFile(configFile, map[string]any{
		"audio.backend":       a.Backend,
		"audio.program":       a.Program,
		"audio.device":        a.Device,
		"audio.sample_rate":   a.SampleRate,
		"audio.channels":      a.Channels,
		"audio.format":        a.Format,
		"audio.start_timeout": a.StartTimeout.String(),
	})
}

// updateConfigFile sets keys in the config file through a private viper
// instance, creating the file when it does not exist yet.
func updateConfigFile(configFile string, values map[string]any) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	exists := true
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, statErr := os.Stat(configFile); statErr == nil {
				return fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
		exists = false
	}

	for k, val := range values {
		v.Set(k, val)
	}

	if !exists {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := v.SafeWriteConfigAs(configFile); err != nil {
			return fmt.Errorf("error writing config file %s: %w", configFile, err)
		}
		return nil
	}
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(os.Getenv("HOME"), path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
