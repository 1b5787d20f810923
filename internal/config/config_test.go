package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.yaml", `
credentials:
  access_key: AKID
  secret_key: SECRET
endpoint: s3.example.com:9000
proxy: socks5://127.0.0.1:1080
transport:
  slice_ms: 50
  static_hosts:
    photos.s3.example.com: 127.0.0.1
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "AKID", cfg.Credentials.AccessKey)
	assert.Equal(t, "SECRET", cfg.Credentials.SecretKey)
	assert.Equal(t, "s3.example.com:9000", cfg.Endpoint)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.Proxy)
	assert.Equal(t, 50*time.Millisecond, cfg.Transport.Slice())
	assert.Equal(t, "tcp", cfg.Transport.Network)
	assert.Equal(t, map[string]string{"photos.s3.example.com": "127.0.0.1"}, cfg.Transport.StaticHosts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
}

func TestLoadAppliesDefaultsToZeroValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "client.yaml", `
endpoint: ""
transport:
  slice_ms: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3.amazonaws.com", cfg.Endpoint)
	assert.Equal(t, 100, cfg.Transport.SliceMS)
}

func TestLoadFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "corona-s3.example.yaml", "endpoint: fallback.example.com\n")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "fallback.example.com", cfg.Endpoint)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	path := writeFile(t, t.TempDir(), "bad.yaml", "transport: [not, a, map]\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "s3.amazonaws.com", cfg.Endpoint)
	assert.Equal(t, 100*time.Millisecond, cfg.Transport.Slice())
	assert.Empty(t, cfg.Credentials.AccessKey)
}

// isolateAWS points the AWS SDK at empty files and disables IMDS.
func isolateAWS(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_PROFILE", "")
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	t.Setenv("AWS_SESSION_TOKEN", "")
}

func TestResolveCredentialsKeepsConfiguredKeys(t *testing.T) {
	isolateAWS(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "FROMENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")

	cfg := Default()
	cfg.Credentials.AccessKey = "AKID"
	cfg.Credentials.SecretKey = "SECRET"

	got, err := ResolveCredentials(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "AKID", got.Credentials.AccessKey)
	assert.Equal(t, "SECRET", got.Credentials.SecretKey)
}

func TestResolveCredentialsFromEnvironment(t *testing.T) {
	isolateAWS(t)
	t.Setenv("AWS_ACCESS_KEY_ID", "FROMENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")

	got, err := ResolveCredentials(context.Background(), Default())
	require.NoError(t, err)
	assert.Equal(t, "FROMENV", got.Credentials.AccessKey)
	assert.Equal(t, "envsecret", got.Credentials.SecretKey)
}

func TestResolveCredentialsFromSharedFile(t *testing.T) {
	isolateAWS(t)
	dir := t.TempDir()
	creds := writeFile(t, dir, "credentials", "[archive]\naws_access_key_id = FROMFILE\naws_secret_access_key = filesecret\n")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", creds)

	cfg := Default()
	cfg.Credentials.Profile = "archive"

	got, err := ResolveCredentials(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "FROMFILE", got.Credentials.AccessKey)
	assert.Equal(t, "filesecret", got.Credentials.SecretKey)
}
