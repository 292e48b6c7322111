// Package constants provides shared constants for the sales-forecast application.
package constants

// DateTimeLayout is the canonical period layout. Period keys use it and it is
// also the output date format.
const DateTimeLayout = "2006-01"

// Calendar constants
const (
	// MonthsPerYear is the number of months in a year
	MonthsPerYear = 12

	// DecimalPrecision is the precision for value rounding (2 decimal places)
	DecimalPrecision = 100
)

// Algorithm identifiers
const (
	// AlgorithmEnsemble blends trend, seasonal, moving-average and exponential estimators
	AlgorithmEnsemble = "advanced_ensemble"

	// AlgorithmGRU trains a gated recurrent network and rolls it forward
	AlgorithmGRU = "gru_network"

	// AlgorithmWaveletARIMA smooths, differences and recursively forecasts the series
	AlgorithmWaveletARIMA = "wavelet_arima"

	// DefaultAlgorithm is used when no algorithm is selected
	DefaultAlgorithm = AlgorithmEnsemble
)

// Forecast defaults
const (
	// DefaultHorizon is the default number of forecast periods
	DefaultHorizon = 12

	// ExtendedHorizon is the longer of the two supported horizons
	ExtendedHorizon = 24

	// MaxHorizon is the most periods a single run will produce
	MaxHorizon = 120

	// DefaultTrainingEpochs is the number of epochs the sequence model trains for
	DefaultTrainingEpochs = 50

	// DefaultBatchSize is the mini-batch size used while training the sequence model
	DefaultBatchSize = 32

	// ConfidenceBandRatio is the relative width of the displayed confidence band
	ConfidenceBandRatio = 0.15
)

// Dimension constants
const (
	// FilterAll is the wildcard dimension filter value
	FilterAll = "all"

	// DimensionOther is assigned to observations that carry no label for a dimension
	DimensionOther = "other"

	// DimensionCountry is the default region dimension
	DimensionCountry = "country"

	// DimensionProduct is the default product dimension
	DimensionProduct = "product"
)

// Output format constants
const (
	// OutputFormatPretty is the human-readable output format
	OutputFormatPretty = "pretty"

	// OutputFormatCSV is the CSV output format
	OutputFormatCSV = "csv"
)

// Configuration file constants
const (
	// DefaultConfigFile is the default configuration file name
	DefaultConfigFile = "config.yaml"

	// ExampleConfigFile is the example configuration file name
	ExampleConfigFile = "config.yaml.example"

	// DefaultServerConfigFile is the default server configuration file name
	DefaultServerConfigFile = "server-config.yaml"
)

// Server configuration defaults
const (
	// DefaultServerAddress is the default HTTP listen address
	DefaultServerAddress = ":8080"

	// DefaultMaxUploadSizeBytes is the default maximum upload size for CSV imports (4 MB)
	DefaultMaxUploadSizeBytes int64 = 4 * 1024 * 1024

	// DefaultForecastTimeout bounds a shared REST forecast computation
	DefaultForecastTimeout = "2m"
)

// Tuning defaults
const (
	// DefaultHoldout is the number of trailing periods held out when scoring candidates
	DefaultHoldout = 6

	// DefaultMaxCandidates bounds the number of grid values evaluated per parameter
	DefaultMaxCandidates = 25

	// DefaultTuningConcurrency bounds the number of concurrent candidate evaluations
	DefaultTuningConcurrency = 4
)

// Validation constants
const (
	// StepTolerance is the tolerance used when checking a value against a step grid
	StepTolerance = 1e-9
)
