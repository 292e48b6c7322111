package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/iwvelando/sales-forecast/internal/config"
	"github.com/iwvelando/sales-forecast/internal/datasource"
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"github.com/iwvelando/sales-forecast/internal/optimizer"
	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/internal/server"
	"github.com/iwvelando/sales-forecast/pkg/constants"
	"github.com/iwvelando/sales-forecast/pkg/output"
	"github.com/iwvelando/sales-forecast/pkg/validation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

type forecastOptions struct {
	outputFormat string
	algorithm    string
	horizon      int
	start        string
}

func newRootCommand() *cobra.Command {
	root := &rootOptions{}
	fopts := &forecastOptions{}

	runForecastE := func(cmd *cobra.Command, args []string) error {
		return runForecast(cmd.Context(), cmd.OutOrStdout(), root, fopts)
	}

	cmd := &cobra.Command{
		Use:           "sales-forecast",
		Short:         "Forecast monthly sales from historical observations",
		Long:          "sales-forecast aggregates monthly sales observations and projects them 12 or 24 months ahead with one of several forecasting algorithms.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runForecastE,
	}
	cmd.PersistentFlags().StringVar(&root.configPath, "config", constants.DefaultConfigFile, "path to configuration file")
	cmd.PersistentFlags().StringVar(&root.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	addForecastFlags(cmd, fopts)

	forecastCmd := &cobra.Command{
		Use:   "forecast",
		Short: "Compute and print a forecast (default)",
		RunE:  runForecastE,
	}
	addForecastFlags(forecastCmd, fopts)

	cmd.AddCommand(forecastCmd, newTuneCommand(root), newServeCommand(root))
	return cmd
}

func addForecastFlags(cmd *cobra.Command, o *forecastOptions) {
	cmd.Flags().StringVar(&o.outputFormat, "output-format", "", "type of output override: pretty, csv")
	cmd.Flags().StringVar(&o.algorithm, "algorithm", "", "algorithm override: advanced_ensemble, gru_network, wavelet_arima")
	cmd.Flags().IntVar(&o.horizon, "horizon", 0, "horizon override in months (12 or 24)")
	cmd.Flags().StringVar(&o.start, "start", "", "forecast start period override (YYYY-MM)")
}

// setup loads the configuration and builds the logger. A missing default
// configuration file falls back to the built-in defaults.
func setup(root *rootOptions) (*config.Configuration, *zap.Logger, error) {
	conf, err := config.LoadConfiguration(root.configPath)
	if err != nil {
		if _, statErr := os.Stat(root.configPath); !errors.Is(statErr, fs.ErrNotExist) || root.configPath != constants.DefaultConfigFile {
			return nil, nil, fmt.Errorf("failed to load configuration at %s: %w", root.configPath, err)
		}
		conf = config.Default()
	}

	logger, err := initializeLogger(conf.Logging, root.logLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return conf, logger, nil
}

func loadObservations(logger *zap.Logger, conf *config.Configuration) ([]series.Observation, error) {
	if conf.Data.Source == config.SourceCSV {
		return importFile(logger, conf.Data.File, conf.Data.Dimensions)
	}
	return datasource.GenerateSample(conf.Data.Seed), nil
}

func importFile(logger *zap.Logger, path string, dimensions []string) ([]series.Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	observations, report, err := datasource.ImportCSV(logger, file, dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	for _, skipped := range report.Skipped {
		logger.Warn("skipped data row",
			zap.String("op", "main.importFile"),
			zap.String("file", path),
			zap.Int("line", skipped.Line),
			zap.String("reason", skipped.Reason),
		)
	}
	return observations, nil
}

func validate(logger *zap.Logger, conf *config.Configuration, registry *forecast.Registry) {
	for _, warning := range conf.ValidateConfiguration(registry) {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}
}

func runForecast(ctx context.Context, out io.Writer, root *rootOptions, o *forecastOptions) error {
	conf, logger, err := setup(root)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if o.algorithm != "" {
		conf.Forecast.Algorithm = o.algorithm
	}
	if o.horizon != 0 {
		conf.Forecast.Horizon = o.horizon
	}
	if o.start != "" {
		conf.Forecast.Start = o.start
	}
	outputFormat := conf.Output.Format
	if o.outputFormat != "" {
		outputFormat = o.outputFormat
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		return err
	}

	registry := forecast.NewDefaultRegistry(logger, conf.Forecast.Seed)
	validate(logger, conf, registry)

	observations, err := loadObservations(logger, conf)
	if err != nil {
		return err
	}

	runner := forecast.NewRunner(logger, registry, nil)
	result, err := runner.Run(ctx, observations, conf.Request(registry))
	if err != nil {
		return fmt.Errorf("failed to compute forecast: %w", err)
	}
	return write(out, outputFormat, result)
}

func write(out io.Writer, format string, result forecast.Forecast) error {
	switch format {
	case constants.OutputFormatCSV:
		return output.CsvFormat(out, result)
	default:
		output.PrettyFormat(out, result)
		return nil
	}
}

func newTuneCommand(root *rootOptions) *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Backtest parameter candidates and report the best values",
		Long:  "tune holds out the most recent months of history, sweeps each configured parameter over its grid and keeps the value with the lowest mean absolute error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTune(cmd.Context(), cmd.OutOrStdout(), root, apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "print the forecast computed with the tuned parameters")
	return cmd
}

func runTune(ctx context.Context, out io.Writer, root *rootOptions, apply bool) error {
	conf, logger, err := setup(root)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	registry := forecast.NewDefaultRegistry(logger, conf.Forecast.Seed)
	validate(logger, conf, registry)

	observations, err := loadObservations(logger, conf)
	if err != nil {
		return err
	}
	history := series.Truncate(series.Aggregate(observations, series.Filter(conf.Forecast.Filter)), conf.Forecast.Start)

	runner, err := optimizer.NewRunner(logger, registry, history, conf.TuningOptions())
	if err != nil {
		return fmt.Errorf("failed to initialize optimizer: %w", err)
	}
	result, err := runner.Run(ctx, conf.TuningDirectives(registry))
	if err != nil {
		return fmt.Errorf("optimizer execution failed: %w", err)
	}
	output.PrettyTuning(out, result.All(registry.Names()))

	if !apply {
		return nil
	}
	selection := conf.Selection(registry)
	result.Apply(selection)
	req := conf.Request(registry)
	req.Parameters = selection.For(registry, req.Algorithm)

	f, err := forecast.NewRunner(logger, registry, nil).Run(ctx, observations, req)
	if err != nil {
		return fmt.Errorf("failed to compute forecast: %w", err)
	}
	output.PrettyFormat(out, f)
	return nil
}

func newServeCommand(root *rootOptions) *cobra.Command {
	var serverConfig, address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the forecast API and live WebSocket session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, serverConfig, address)
		},
	}
	cmd.Flags().StringVar(&serverConfig, "server-config", constants.DefaultServerConfigFile, "path to server configuration file")
	cmd.Flags().StringVar(&address, "address", "", "listen address override")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, serverConfigPath, address string) error {
	scfg, err := server.LoadConfig(serverConfigPath)
	if err != nil {
		return err
	}
	if address != "" {
		scfg.Address = address
	}

	logger, err := initializeLogger(scfg.Logging, root.logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store := datasource.NewStore(nil)
	if scfg.DataFile != "" {
		observations, err := importFile(logger, scfg.DataFile, store.Dimensions())
		if err != nil {
			return err
		}
		store.Replace(observations, scfg.DataFile)
	} else {
		store.Replace(datasource.GenerateSample(scfg.SampleSeed), "sample")
	}

	registry := forecast.NewDefaultRegistry(logger, scfg.ModelSeed)
	handler := server.NewHandler(logger, registry, store, server.Options{
		MaxUploadSize:  scfg.UploadSizeBytes(),
		Version:        version,
		SampleSeed:     scfg.SampleSeed,
		RateLimit:      scfg.RateLimit,
		RateBurst:      scfg.RateBurst,
		Timeout:        scfg.ForecastTimeoutDuration(),
		AllowedOrigins: scfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              scfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening",
			zap.String("op", "main.runServe"),
			zap.String("address", scfg.Address),
			zap.String("version", version),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("server shutting down", zap.String("op", "main.runServe"))
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
