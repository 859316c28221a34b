package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/volsurface/api"
	"github.com/gregtusar/volsurface/internal/config"
	"github.com/gregtusar/volsurface/pkg/animator"
	"github.com/gregtusar/volsurface/pkg/calibration"
	"github.com/gregtusar/volsurface/pkg/grid"
	"github.com/gregtusar/volsurface/pkg/logger"
	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/gregtusar/volsurface/pkg/render"
	"github.com/gregtusar/volsurface/pkg/svi"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	symbol    string
	denseFile string
	asFigure  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "volsurface",
		Short: "Implied volatility surface server",
		Long:  `Serves calibrated SVI volatility surfaces and slices to browser sessions over websocket`,
		RunE:  runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE:  runServe,
	}

	surfaceCmd := &cobra.Command{
		Use:   "surface",
		Short: "Fetch a symbol's surface and print it as a JSON grid",
		Long:  `Fetches the scattered surface of --symbol from the model service and grids it, or loads an already gridded {x, y, z} file with --dense`,
		RunE:  runSurface,
	}
	surfaceCmd.Flags().StringVar(&symbol, "symbol", "", "underlying symbol")
	surfaceCmd.Flags().StringVar(&denseFile, "dense", "", "pre-gridded surface JSON file")
	surfaceCmd.Flags().BoolVar(&asFigure, "figure", false, "print the Plotly surface figure instead of the grid")
	surfaceCmd.MarkFlagsOneRequired("symbol", "dense")
	surfaceCmd.MarkFlagsMutuallyExclusive("symbol", "dense")

	rootCmd.AddCommand(serveCmd, surfaceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newModelClient(cfg *config.Config, log *logrus.Logger, m *metrics.Metrics) (*svi.HTTPClient, error) {
	auth, err := svi.NewAuthenticator(svi.AuthType(cfg.Model.AuthType), cfg.Model.APIToken, cfg.Model.APIKeyName, cfg.Model.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to configure model auth: %w", err)
	}

	opts := []svi.Option{
		svi.WithAuthenticator(auth),
		svi.WithTimeout(cfg.Model.Timeout),
		svi.WithLogger(log),
		svi.WithMetrics(m),
	}
	if cfg.Model.RateLimit > 0 {
		opts = append(opts, svi.WithRateLimit(cfg.Model.RateLimit, cfg.Model.RateBurst))
	}
	return svi.NewHTTPClient(cfg.Model.BaseURL, opts...), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	client, err := newModelClient(cfg, log, m)
	if err != nil {
		return err
	}

	calOpts := calibration.DefaultOptions()
	calOpts.OptionType = cfg.Model.OptionType
	calOpts.Animate = cfg.Animation.Enabled
	calOpts.Spin = animator.Spin{
		Speed:  cfg.Animation.Speed,
		Radius: cfg.Animation.Radius,
		Height: cfg.Animation.Height,
	}
	calOpts.PreloadConcurrency = cfg.Cache.PreloadConcurrency
	calOpts.PreloadRate = cfg.Cache.PreloadRate

	server := api.NewServer(client, api.Options{
		Port:        cfg.Server.Port,
		StaticDir:   cfg.Server.StaticDir,
		AckTimeout:  cfg.Server.AckTimeout,
		FPS:         cfg.Animation.FPS,
		Calibration: calOpts,
	}, log, m)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.WithField("model", cfg.Model.BaseURL).Info("volsurface is running. Press Ctrl+C to stop.")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-sigChan:
		log.Info("Received shutdown signal")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Shutdown did not complete cleanly")
	}

	log.Info("volsurface stopped")
	return nil
}

func runSurface(cmd *cobra.Command, args []string) error {
	g, err := loadSurface()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if asFigure {
		fig, err := render.SurfaceFigure(g, render.DefaultSurfaceOptions())
		if err != nil {
			return err
		}
		return enc.Encode(fig)
	}
	return enc.Encode(g)
}

func loadSurface() (models.SurfaceGrid, error) {
	if denseFile != "" {
		data, err := os.ReadFile(denseFile)
		if err != nil {
			return models.SurfaceGrid{}, fmt.Errorf("failed to read surface file: %w", err)
		}
		var dense models.DenseGrid
		if err := json.Unmarshal(data, &dense); err != nil {
			return models.SurfaceGrid{}, fmt.Errorf("failed to parse surface file: %w", err)
		}
		return grid.FromDense(dense.X, dense.Y, dense.Z)
	}

	cfg, log, err := setup()
	if err != nil {
		return models.SurfaceGrid{}, err
	}
	client, err := newModelClient(cfg, log, nil)
	if err != nil {
		return models.SurfaceGrid{}, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	samples, err := client.AllSlices(ctx, symbol)
	if err != nil {
		return models.SurfaceGrid{}, err
	}
	return grid.Gridify(grid.Normalized(samples)), nil
}
