package settings

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/twivo/twivo-media/src/pkg/images/storage"
)

const EnvPrefix = "TWIVO_MEDIA"

const (
	DriverFilesystem = "filesystem"
	DriverS3         = "s3"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	HealthListen      string        `mapstructure:"health_listen"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	PublicKeyPath  string `mapstructure:"public_key_path"`
	WatchPublicKey bool   `mapstructure:"watch_public_key"`
	Header         string `mapstructure:"header"`
	Issuer         string `mapstructure:"issuer"`
	Audience       string `mapstructure:"audience"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
}

type UploadConfig struct {
	MaxSize       string  `mapstructure:"max_size"`
	ChunkSize     string  `mapstructure:"chunk_size"`
	MaxDimension  int     `mapstructure:"max_dimension"`
	Quality       float32 `mapstructure:"quality"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`

	maxBytes   int64
	chunkBytes int64
}

// MaxBytes is the parsed size ceiling. Valid after Validate.
func (u UploadConfig) MaxBytes() int64 { return u.maxBytes }

// ChunkBytes is the parsed read size for streamed bodies. Valid after Validate.
func (u UploadConfig) ChunkBytes() int64 { return u.chunkBytes }

type StorageConfig struct {
	Driver   string           `mapstructure:"driver"`
	Root     string           `mapstructure:"root"`
	IndexDir string           `mapstructure:"index_dir"`
	S3       storage.S3Config `mapstructure:"s3"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	EventBuffer  int    `mapstructure:"event_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.health_listen", ":9090")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("auth.public_key_path", "keys/public.pem")
	v.SetDefault("auth.watch_public_key", false)
	v.SetDefault("auth.header", "x-twivo-backend")
	v.SetDefault("auth.issuer", "twivo-backend")
	v.SetDefault("auth.audience", "twivo-media")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ip:limit:")
	v.SetDefault("redis.limit", 5)
	v.SetDefault("redis.window", 60*time.Second)

	v.SetDefault("upload.max_size", "10MiB")
	v.SetDefault("upload.chunk_size", "64KiB")
	v.SetDefault("upload.max_dimension", 2000)
	v.SetDefault("upload.quality", 100)
	v.SetDefault("upload.max_concurrent", runtime.NumCPU())

	v.SetDefault("storage.driver", DriverFilesystem)
	v.SetDefault("storage.root", "data")
	v.SetDefault("storage.index_dir", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.insecure", false)
	v.SetDefault("storage.s3.force_path_style", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.event_buffer", 100)
}

// FlagKeys maps command line flags onto configuration keys.
var FlagKeys = map[string]string{
	"listen":          "server.listen",
	"health-listen":   "server.health_listen",
	"public-key":      "auth.public_key_path",
	"redis-addr":      "redis.addr",
	"storage-root":    "storage.root",
	"storage-driver":  "storage.driver",
	"otlp-endpoint":   "telemetry.otlp_endpoint",
	"max-upload-size": "upload.max_size",
}

// Load resolves the configuration from defaults, the optional YAML file at
// path, TWIVO_MEDIA_* environment variables and flags, in increasing order
// of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	config, err := Load("", nil)
	if err != nil {
		panic(fmt.Errorf("default config is invalid: %w", err))
	}
	return config
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if strings.TrimSpace(c.Auth.PublicKeyPath) == "" {
		errs = append(errs, errors.New("auth.public_key_path is required"))
	}
	if c.Auth.Header == "" {
		errs = append(errs, errors.New("auth.header is required"))
	}
	if c.Redis.Limit < 1 {
		errs = append(errs, fmt.Errorf("redis.limit must be positive, got %d", c.Redis.Limit))
	}
	if c.Redis.Window < time.Second {
		errs = append(errs, fmt.Errorf("redis.window must be at least 1s, got %s", c.Redis.Window))
	}

	maxBytes, maxErr := humanize.ParseBytes(c.Upload.MaxSize)
	if maxErr != nil {
		errs = append(errs, fmt.Errorf("upload.max_size: %w", maxErr))
	} else if maxBytes == 0 {
		errs = append(errs, errors.New("upload.max_size must be positive"))
	}
	chunkBytes, chunkErr := humanize.ParseBytes(c.Upload.ChunkSize)
	if chunkErr != nil {
		errs = append(errs, fmt.Errorf("upload.chunk_size: %w", chunkErr))
	} else if chunkBytes == 0 {
		errs = append(errs, errors.New("upload.chunk_size must be positive"))
	}
	if maxErr == nil && chunkErr == nil && chunkBytes > maxBytes {
		errs = append(errs, fmt.Errorf("upload.chunk_size %s must not exceed upload.max_size %s", c.Upload.ChunkSize, c.Upload.MaxSize))
	}
	c.Upload.maxBytes = int64(maxBytes)
	c.Upload.chunkBytes = int64(chunkBytes)
	if c.Upload.MaxDimension < 1 {
		errs = append(errs, fmt.Errorf("upload.max_dimension must be positive, got %d", c.Upload.MaxDimension))
	}
	if c.Upload.Quality <= 0 || c.Upload.Quality > 100 {
		errs = append(errs, fmt.Errorf("upload.quality must be in (0, 100], got %v", c.Upload.Quality))
	}
	if c.Upload.MaxConcurrent < 1 {
		c.Upload.MaxConcurrent = 1
	}

	switch c.Storage.Driver {
	case DriverFilesystem:
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the filesystem driver"))
		}
	case DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 driver"))
		}
		if c.Storage.IndexDir == "" && c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.index_dir or storage.root is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

// HumanMaxSize renders the size ceiling for logs and error messages.
func (u UploadConfig) HumanMaxSize() string {
	return humanize.IBytes(uint64(u.maxBytes))
}
