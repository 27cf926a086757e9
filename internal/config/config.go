package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration for lessonvault.
type Config struct {
	DeviceID   string         `toml:"device_id"`
	DeviceName string         `toml:"device_name"`
	Platform   string         `toml:"platform"`
	BaseDir    string         `toml:"base_dir"`
	LogDir     string         `toml:"log_dir"`
	Server     EndpointConfig `toml:"server"`
	Store      StoreConfig    `toml:"store"`
	KeyCache   KeyCacheConfig `toml:"key_cache"`
	Spool      SpoolConfig    `toml:"spool"`
}

// EndpointConfig locates the license server and the account token used with it.
type EndpointConfig struct {
	URL       string `toml:"url"`
	TokenPath string `toml:"token_path"` // LESSONVAULT_TOKEN takes precedence
}

// StoreConfig represents configuration for the package store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "auto" (default), "filesystem", "kv", or "memory"

	// Filesystem-specific fields (used when Type is "filesystem" or "auto")
	FSRoot string `toml:"fs_root,omitempty"`

	// KV-specific fields (used when Type is "kv" or "auto")
	KVPath  string `toml:"kv_path,omitempty"`
	KVQuota int64  `toml:"kv_quota,omitempty"` // max total package bytes; defaults to 50MB
}

// KeyCacheConfig represents configuration for the content key cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type KeyCacheConfig struct {
	Type string `toml:"type"` // "age" (default), "plain", or "memory"

	// Dir holds sealed keys (age) or plain keys (plain).
	Dir string `toml:"dir"`
	// FallbackDir holds plain keys written while the age store was unavailable.
	FallbackDir string `toml:"fallback_dir,omitempty"`

	// Age-specific fields
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// SpoolConfig represents configuration for the download spool.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SpoolConfig struct {
	Type     string `toml:"type"`                // "memory" or "filesystem"
	SpoolDir string `toml:"spool_dir,omitempty"` // only used for type=filesystem
	MaxSize  int64  `toml:"max_size"`            // max asset size in bytes; must be positive
}

// DefaultKVQuota mirrors the small quota of browser-style key/value storage.
const DefaultKVQuota = 50 << 20

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Server: EndpointConfig{
			URL:       "http://localhost:8080",
			TokenPath: filepath.Join(baseDir, "token"),
		},
		Store: StoreConfig{
			Type:    "auto",
			FSRoot:  filepath.Join(baseDir, "packages"),
			KVPath:  filepath.Join(baseDir, "packages.db"),
			KVQuota: DefaultKVQuota,
		},
		KeyCache: KeyCacheConfig{
			Type:           "age",
			Dir:            filepath.Join(baseDir, "keys", "sealed"),
			FallbackDir:    filepath.Join(baseDir, "keys", "plain"),
			PublicKeyPath:  filepath.Join(baseDir, "keys", "lessonvault.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "lessonvault.key"),
		},
		Spool: SpoolConfig{
			Type:     "filesystem",
			SpoolDir: filepath.Join(baseDir, "spool"),
			MaxSize:  512 << 20,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	return encode(w, cfg)
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	return initFile(path, cfg)
}

func encode(w io.Writer, v any) error {
	if err := toml.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// writeToFile writes any config value to the specified file path.
func writeToFile(path string, v any) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Config files may carry secrets.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := encode(f, v); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

func initFile(path string, v any) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, v); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
