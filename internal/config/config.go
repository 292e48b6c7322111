// Package config defines the data structures related to configuration and
// includes functions for loading, defaulting and validating the config.
package config

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/internal/optimizer"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/validation"
	"github.com/spf13/viper"
)

// DateTimeLayout is the format expected in config files and is also the output
// date format.
const DateTimeLayout = constants.DateTimeLayout

// Data sources.
const (
	SourceSample = "sample"
	SourceCSV    = "csv"
)

// EnvPrefix prefixes environment overrides, e.g. SALES_FORECAST_FORECAST_HORIZON.
const EnvPrefix = "SALES_FORECAST"

// Configuration holds all configuration for sales-forecast.
type Configuration struct {
	Data       DataConfig                    `mapstructure:"data"`
	Forecast   ForecastConfig                `mapstructure:"forecast"`
	Parameters map[string]map[string]float64 `mapstructure:"parameters"`
	Tuning     TuningConfig                  `mapstructure:"tuning"`
	Logging    LoggingConfig                 `mapstructure:"logging"`
	Output     OutputConfig                  `mapstructure:"output"`
}

// DataConfig selects where observations come from.
type DataConfig struct {
	Source     string   `mapstructure:"source"` // sample, csv
	File       string   `mapstructure:"file"`
	Seed       int64    `mapstructure:"seed"`
	Dimensions []string `mapstructure:"dimensions"`
}

// ForecastConfig selects what to forecast.
type ForecastConfig struct {
	Algorithm string            `mapstructure:"algorithm"`
	Horizon   int               `mapstructure:"horizon"`
	Start     string            `mapstructure:"start"` // YYYY-MM, empty follows the data
	Filter    map[string]string `mapstructure:"filter"`
	Seed      int64             `mapstructure:"seed"`
}

// TuningConfig holds the parameter tuning directives.
type TuningConfig struct {
	Holdout       int                   `mapstructure:"holdout"`
	MaxCandidates int                   `mapstructure:"max_candidates"`
	Concurrency   int                   `mapstructure:"concurrency"`
	Directives    []optimizer.Directive `mapstructure:"directives"`
}

// LoggingConfig holds logging configuration options
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`           // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"`         // json, console
	OutputFile string `mapstructure:"outputFile" yaml:"outputFile"` // optional file output
}

// OutputConfig holds output format configuration options
type OutputConfig struct {
	Format string `mapstructure:"format"` // pretty, csv
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data.source", SourceSample)
	v.SetDefault("data.seed", 1)
	v.SetDefault("data.dimensions", []string{constants.DimensionCountry, constants.DimensionProduct})
	v.SetDefault("forecast.algorithm", constants.DefaultAlgorithm)
	v.SetDefault("forecast.horizon", constants.DefaultHorizon)
	v.SetDefault("forecast.seed", 1)
	v.SetDefault("tuning.holdout", constants.DefaultHoldout)
	v.SetDefault("tuning.max_candidates", constants.DefaultMaxCandidates)
	v.SetDefault("tuning.concurrency", constants.DefaultTuningConcurrency)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("output.format", constants.OutputFormatPretty)
	return v
}

func decode(v *viper.Viper) (*Configuration, error) {
	var configuration Configuration
	if err := v.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	return &configuration, nil
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}
	return decode(v)
}

// LoadConfigurationFromReader loads a YAML-formatted configuration from r.
func LoadConfigurationFromReader(r io.Reader) (*Configuration, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("error reading config, %s", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is given.
func Default() *Configuration {
	conf, err := decode(newViper())
	if err != nil {
		// Defaults alone always decode.
		panic(err)
	}
	return conf
}

// Selection returns every registered algorithm's parameter set with the
// configured overrides applied.
func (c *Configuration) Selection(registry *forecast.Registry) forecast.Selection {
	selection := forecast.NewSelection(registry)
	for name, params := range c.Parameters {
		for param, value := range params {
			selection.Set(name, param, value)
		}
	}
	return selection
}

// Request builds the forecast request for the configured algorithm.
func (c *Configuration) Request(registry *forecast.Registry) forecast.Request {
	return forecast.Request{
		Algorithm:  c.Forecast.Algorithm,
		Parameters: c.Selection(registry).For(registry, c.Forecast.Algorithm),
		Horizon:    c.Forecast.Horizon,
		Start:      c.Forecast.Start,
		Filter:     series.Filter(c.Forecast.Filter),
	}
}

// TuningOptions returns the optimizer options.
func (c *Configuration) TuningOptions() optimizer.Options {
	return optimizer.Options{
		Holdout:       c.Tuning.Holdout,
		MaxCandidates: c.Tuning.MaxCandidates,
		Concurrency:   c.Tuning.Concurrency,
	}
}

// TuningDirectives returns the configured directives, each starting from the
// configured parameter set of its algorithm. With no directives configured,
// every parameter of the selected algorithm is tuned.
func (c *Configuration) TuningDirectives(registry *forecast.Registry) []optimizer.Directive {
	directives := c.Tuning.Directives
	if len(directives) == 0 {
		directives = []optimizer.Directive{{Algorithm: c.Forecast.Algorithm}}
	}
	selection := c.Selection(registry)
	out := make([]optimizer.Directive, len(directives))
	for i, d := range directives {
		d.Base = selection.For(registry, d.Algorithm)
		out[i] = d
	}
	return out
}

// ValidateConfiguration performs general validation of the configuration and
// returns warnings. Warnings never stop a run.
func (c *Configuration) ValidateConfiguration(registry *forecast.Registry) []string {
	var warnings []string

	switch c.Data.Source {
	case SourceSample:
	case SourceCSV:
		if c.Data.File == "" {
			warnings = append(warnings, "Data source 'csv' requires data.file")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown data source '%s' (expected %s or %s)", c.Data.Source, SourceSample, SourceCSV))
	}

	if _, ok := registry.Descriptor(c.Forecast.Algorithm); !ok {
		warnings = append(warnings, fmt.Sprintf("Unknown algorithm '%s' (available: %s)",
			c.Forecast.Algorithm, strings.Join(registry.Names(), ", ")))
	}
	if warning := validation.ValidateHorizon(c.Forecast.Horizon); warning != "" {
		warnings = append(warnings, warning)
	}
	if err := validation.ValidateStartPeriod(c.Forecast.Start); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid forecast start: %v", err))
	}
	for dim := range c.Forecast.Filter {
		if !contains(c.Data.Dimensions, dim) {
			warnings = append(warnings, fmt.Sprintf("Filter dimension '%s' is not one of the data dimensions", dim))
		}
	}

	for _, name := range sortedKeys(c.Parameters) {
		desc, ok := registry.Descriptor(name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Parameters given for unknown algorithm '%s'", name))
			continue
		}
		warnings = append(warnings, desc.Validate(forecast.ParameterSet(c.Parameters[name]))...)
	}

	for _, d := range c.Tuning.Directives {
		if _, ok := registry.Descriptor(d.Algorithm); !ok {
			warnings = append(warnings, fmt.Sprintf("Tuning directive names unknown algorithm '%s'", d.Algorithm))
		}
	}

	if err := validation.ValidateOutputFormat(c.Output.Format); err != nil {
		warnings = append(warnings, err.Error())
	}
	return warnings
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
