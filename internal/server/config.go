package server

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/iwvelando/sales-forecast/internal/config"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"gopkg.in/yaml.v3"
)

// Config is the server-config.yaml document. The dataset served at startup is
// DataFile when set, otherwise the synthetic sample generated from SampleSeed.
type Config struct {
	Address         string               `yaml:"address"`
	MaxUploadSize   string               `yaml:"maxUploadSize"`
	DataFile        string               `yaml:"dataFile"`
	SampleSeed      int64                `yaml:"sampleSeed"`
	ModelSeed       int64                `yaml:"modelSeed"`
	RateLimit       float64              `yaml:"rateLimit"`
	RateBurst       int                  `yaml:"rateBurst"`
	ForecastTimeout string               `yaml:"forecastTimeout"`
	AllowedOrigins  []string             `yaml:"allowedOrigins"`
	Logging         config.LoggingConfig `yaml:"logging"`

	uploadSizeBytes int64
	forecastTimeout time.Duration
}

// defaultConfig serves the seeded sample on the default address.
func defaultConfig() *Config {
	return &Config{
		Address:         constants.DefaultServerAddress,
		MaxUploadSize:   strconv.FormatInt(constants.DefaultMaxUploadSizeBytes, 10),
		SampleSeed:      1,
		ModelSeed:       1,
		ForecastTimeout: constants.DefaultForecastTimeout,
	}
}

// LoadConfig reads the server configuration. A missing file is not an error:
// the sample dataset is served with default settings.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read server config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse server config: %w", err)
			}
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UploadSizeBytes is the largest CSV upload accepted by POST /api/data.
func (c *Config) UploadSizeBytes() int64 {
	return c.uploadSizeBytes
}

// ForecastTimeoutDuration bounds one shared REST forecast computation.
func (c *Config) ForecastTimeoutDuration() time.Duration {
	return c.forecastTimeout
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = constants.DefaultServerAddress
	}

	size, err := ParseSize(c.MaxUploadSize)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = constants.DefaultMaxUploadSizeBytes
	}
	c.uploadSizeBytes = size

	if c.RateLimit < 0 {
		return fmt.Errorf("rateLimit must not be negative: %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = int(math.Ceil(c.RateLimit))
	}

	timeout := strings.TrimSpace(c.ForecastTimeout)
	if timeout == "" {
		timeout = constants.DefaultForecastTimeout
	}
	c.forecastTimeout, err = time.ParseDuration(timeout)
	if err != nil {
		return fmt.Errorf("invalid forecastTimeout %q: %w", c.ForecastTimeout, err)
	}
	if c.forecastTimeout <= 0 {
		return fmt.Errorf("forecastTimeout must be positive: %s", c.ForecastTimeout)
	}
	return nil
}

var sizeUnits = map[string]int64{
	"":   1,
	"B":  1,
	"K":  1 << 10,
	"KB": 1 << 10,
	"M":  1 << 20,
	"MB": 1 << 20,
	"G":  1 << 30,
	"GB": 1 << 30,
}

// ParseSize converts an upload limit such as "256K" or "10M" into bytes. An
// empty string yields the default limit.
func ParseSize(value string) (int64, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return constants.DefaultMaxUploadSizeBytes, nil
	}

	digits := strings.TrimRightFunc(trimmed, func(r rune) bool { return !unicode.IsDigit(r) })
	if digits == "" {
		return 0, fmt.Errorf("invalid size: %s", value)
	}
	unit := strings.TrimSpace(trimmed[len(digits):])
	multiplier, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unsupported size unit %q", unit)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(digits), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", value, err)
	}
	if n > math.MaxInt64/multiplier {
		return 0, fmt.Errorf("size overflow for value %s", value)
	}
	return n * multiplier, nil
}
