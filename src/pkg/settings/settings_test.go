package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, ":8080", config.Server.Listen)
	assert.Equal(t, "x-twivo-backend", config.Auth.Header)
	assert.Equal(t, 5, config.Redis.Limit)
	assert.Equal(t, 60*time.Second, config.Redis.Window)
	assert.Equal(t, "ip:limit:", config.Redis.KeyPrefix)
	assert.EqualValues(t, 10<<20, config.Upload.MaxBytes())
	assert.EqualValues(t, 64<<10, config.Upload.ChunkBytes())
	assert.Equal(t, 2000, config.Upload.MaxDimension)
	assert.EqualValues(t, 100, config.Upload.Quality)
	assert.Equal(t, DriverFilesystem, config.Storage.Driver)
	assert.Equal(t, "10 MiB", config.Upload.HumanMaxSize())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":7000"
redis:
  addr: "redis:6379"
  limit: 10
upload:
  max_size: "2MB"
storage:
  driver: s3
  index_dir: /var/lib/twivo/index
  s3:
    bucket: media
    force_path_style: true
`), 0o644))

	t.Setenv("TWIVO_MEDIA_REDIS_ADDR", "redis-env:6379")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen", "", "")
	flags.String("public-key", "", "")
	require.NoError(t, flags.Parse([]string{"--public-key", "/etc/twivo/public.pem"}))

	config, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, ":7000", config.Server.Listen, "unset flag keeps file value")
	assert.Equal(t, "/etc/twivo/public.pem", config.Auth.PublicKeyPath)
	assert.Equal(t, "redis-env:6379", config.Redis.Addr)
	assert.Equal(t, 10, config.Redis.Limit)
	assert.EqualValues(t, 2_000_000, config.Upload.MaxBytes())
	assert.Equal(t, DriverS3, config.Storage.Driver)
	assert.Equal(t, "media", config.Storage.S3.Bucket)
	assert.True(t, config.Storage.S3.ForcePathStyle)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad size", func(c *Config) { c.Upload.MaxSize = "ten megs" }},
		{"zero size", func(c *Config) { c.Upload.MaxSize = "0" }},
		{"bad quality", func(c *Config) { c.Upload.Quality = 120 }},
		{"no public key", func(c *Config) { c.Auth.PublicKeyPath = " " }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Driver = DriverS3 }},
		{"zero limit", func(c *Config) { c.Redis.Limit = 0 }},
		{"short window", func(c *Config) { c.Redis.Window = time.Millisecond }},
		{"chunk over max", func(c *Config) { c.Upload.ChunkSize = "20MiB" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestValidateChunkMayEqualMax(t *testing.T) {
	config := Default()
	config.Upload.MaxSize = "1MiB"
	config.Upload.ChunkSize = "1MiB"
	require.NoError(t, config.Validate())
	assert.Equal(t, config.Upload.MaxBytes(), config.Upload.ChunkBytes())
}
