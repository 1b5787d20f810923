// Package config handles loading and parsing of corona-s3 client configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration. It is passed by value into
// the client and never modified afterwards.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	// Endpoint is the service host, optionally with port. Buckets are
	// addressed as virtual hosts below it.
	Endpoint string `yaml:"endpoint"`
	// Proxy is a forward proxy used for every request: "host:port",
	// "http://host:port" or "socks5://host:port". Empty means direct.
	Proxy     string          `yaml:"proxy"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CredentialsConfig holds the key pair used for signing.
type CredentialsConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Profile selects a shared config profile when the keys are resolved
	// from the environment.
	Profile string `yaml:"profile"`
}

// TransportConfig holds connection settings.
type TransportConfig struct {
	// SliceMS bounds the socket work done per scheduler tick, in milliseconds.
	SliceMS int `yaml:"slice_ms"`
	// Network is "tcp", "tcp4" or "tcp6".
	Network string `yaml:"network"`
	// StaticHosts maps host names to addresses, like /etc/hosts.
	StaticHosts map[string]string `yaml:"static_hosts"`
}

// Slice returns SliceMS as a duration.
func (t TransportConfig) Slice() time.Duration {
	return time.Duration(t.SliceMS) * time.Millisecond
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to corona-s3.example.yaml
// in the same directory or parent directory.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "corona-s3.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "corona-s3.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() Config {
	return Config{
		Endpoint: "s3.amazonaws.com",
		Transport: TransportConfig{
			SliceMS: 100,
			Network: "tcp",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "s3.amazonaws.com"
	}
	if cfg.Transport.SliceMS <= 0 {
		cfg.Transport.SliceMS = 100
	}
	if cfg.Transport.Network == "" {
		cfg.Transport.Network = "tcp"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9464"
	}
}

// ResolveCredentials returns cfg with its key pair filled in. Keys given in
// the file win; otherwise the standard AWS chain is consulted (environment
// variables, then shared config and credentials files). The keys are not
// validated: bad ones surface as rejected requests.
func ResolveCredentials(ctx context.Context, cfg Config) (Config, error) {
	var provider aws.CredentialsProvider
	if cfg.Credentials.AccessKey != "" && cfg.Credentials.SecretKey != "" {
		provider = credentials.NewStaticCredentialsProvider(cfg.Credentials.AccessKey, cfg.Credentials.SecretKey, "")
	} else {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Credentials.Profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Credentials.Profile))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return cfg, fmt.Errorf("loading AWS config: %w", err)
		}
		if awsCfg.Credentials == nil {
			return cfg, fmt.Errorf("no credentials configured")
		}
		provider = awsCfg.Credentials
	}

	creds, err := aws.NewCredentialsCache(provider).Retrieve(ctx)
	if err != nil {
		return cfg, fmt.Errorf("retrieving credentials: %w", err)
	}
	cfg.Credentials.AccessKey = creds.AccessKeyID
	cfg.Credentials.SecretKey = creds.SecretAccessKey
	return cfg, nil
}
