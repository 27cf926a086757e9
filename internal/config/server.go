package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig represents the configuration of the license server.
type ServerConfig struct {
	Listen        string       `toml:"listen"`
	Environment   string       `toml:"environment"`
	LogLevel      string       `toml:"log_level"`
	Secret        string       `toml:"secret,omitempty"` // hex; LICENSED_SECRET takes precedence
	DemoContentID string       `toml:"demo_content_id"`
	FetchTTL      string       `toml:"fetch_ttl"`  // Go duration, clamped to 30m..60m
	RateLimit     int          `toml:"rate_limit"` // license requests per minute per client IP; 0 disables
	Auth          AuthConfig   `toml:"auth"`
	Ledger        LedgerConfig `toml:"ledger"`
	Origin        OriginConfig `toml:"origin"`
}

// AuthConfig holds the bearer token settings.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer,omitempty"`
}

// LedgerConfig represents configuration for the license ledger.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LedgerConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// OriginConfig represents configuration for the raw content origin.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type OriginConfig struct {
	Type string `toml:"type"` // "s3" or "local"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for S3-compatible stores

	// Local-specific fields (only used when Type == "local")
	LocalRoot    string `toml:"local_root,omitempty"`
	LocalBaseURL string `toml:"local_base_url,omitempty"`
}

// NewServerConfig creates a ServerConfig with defaults rooted at baseDir.
func NewServerConfig(baseDir string) *ServerConfig {
	return &ServerConfig{
		Listen:      ":8080",
		Environment: "development",
		LogLevel:    "info",
		FetchTTL:    "45m",
		RateLimit:   120,
		Ledger: LedgerConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "ledger.db"),
		},
		Origin: OriginConfig{
			Type:         "local",
			LocalRoot:    filepath.Join(baseDir, "content"),
			LocalBaseURL: "http://localhost:8080",
		},
	}
}

// SecretBytes decodes the hex server secret. The LICENSED_SECRET environment
// variable overrides the file value.
func (c *ServerConfig) SecretBytes() ([]byte, error) {
	s := c.Secret
	if env := os.Getenv("LICENSED_SECRET"); env != "" {
		s = env
	}
	if s == "" {
		return nil, fmt.Errorf("server secret not configured")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("server secret is not valid hex: %w", err)
	}
	return b, nil
}

// FetchTTLDuration parses FetchTTL. Empty means zero, which selects the default.
func (c *ServerConfig) FetchTTLDuration() (time.Duration, error) {
	if c.FetchTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.FetchTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid fetch_ttl %q: %w", c.FetchTTL, err)
	}
	return d, nil
}

// ReadServer decodes a ServerConfig from the provided reader.
func (m *Manager) ReadServer(r io.Reader) (*ServerConfig, error) {
	var cfg ServerConfig
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode server config: %w", err)
	}
	return &cfg, nil
}

// WriteServer encodes a ServerConfig to the provided writer.
func (m *Manager) WriteServer(w io.Writer, cfg *ServerConfig) error {
	return encode(w, cfg)
}

// ReadServerFromFile reads a ServerConfig from the specified file path.
func ReadServerFromFile(path string) (*ServerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.ReadServer(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// InitServer writes a new server config file. It fails if the file exists.
func InitServer(path string, cfg *ServerConfig) error {
	return initFile(path, cfg)
}
