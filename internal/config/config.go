package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
	"github.com/Brownie44l1/dementia-api/internal/model"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8000"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	APIPrefix   string `env:"API_PREFIX" envDefault:"/api"`

	ModelProfile      string `env:"MODEL_PROFILE" envDefault:"vit"`
	ModelPath         string `env:"MODEL_PATH" envDefault:"models/model.onnx"`
	ModelMetadataPath string `env:"MODEL_METADATA_PATH"`
	ModelCacheDir     string `env:"MODEL_CACHE_DIR" envDefault:"models/cache"`
	ModelVersion      string `env:"MODEL_VERSION" envDefault:"1.0.0"`
	OnnxRuntimeDylib  string `env:"ONNX_RUNTIME_DYLIB"`
	PreloadModel      bool   `env:"PRELOAD_MODEL" envDefault:"true"`

	MaxUploadSize           int64         `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
	MaxImagePixels          int64         `env:"MAX_IMAGE_PIXELS" envDefault:"50000000"`
	AllowedExtensions       []string      `env:"ALLOWED_EXTENSIONS" envDefault:".jpg,.jpeg,.png,.bmp" envSeparator:","`
	AllowedOrigins          []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	MaxConcurrentInferences int           `env:"MAX_CONCURRENT_INFERENCES" envDefault:"0"`
	RequestTimeout          time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"LOG_DIR"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// Load parses the process environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if _, err := model.LookupProfile(c.ModelProfile); err != nil {
		errs = append(errs, err)
	}
	if strings.Trim(c.APIPrefix, "/ ") == "" {
		// the upload route already owns /predict at the root
		errs = append(errs, errors.New("API_PREFIX must not be empty or /"))
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		errs = append(errs, errors.New("MODEL_PATH must be set"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize))
	}
	if c.MaxImagePixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels))
	}
	if len(c.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("ALLOWED_EXTENSIONS must not be empty"))
	}
	if c.MaxConcurrentInferences < 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_INFERENCES must not be negative, got %d", c.MaxConcurrentInferences))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.S3EndpointURL != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		slog.Warn("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing")
	}
	return errors.Join(errs...)
}

// Prefix is API_PREFIX with a single leading slash and no trailing one.
func (c *Config) Prefix() string {
	return "/" + strings.Trim(c.APIPrefix, "/")
}

func (c *Config) Codec() *imageproc.Codec {
	return imageproc.NewCodec(c.MaxUploadSize, c.AllowedExtensions).WithMaxPixels(c.MaxImagePixels)
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
