// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/adquify/catalog-harvester/internal/app"
	"github.com/adquify/catalog-harvester/internal/config"
	"github.com/adquify/catalog-harvester/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can swap the
// environment files it reads.
var newApp = func(ctx context.Context, v *viper.Viper, cfgPath string) (*app.App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadWith(v, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned func
// closes the application once the command has finished, whatever the outcome.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests supplier catalogs into the Adquify product catalog.",
		Long: `harvester pulls product listings from supplier sources (the Kave Home
search API, the Sklum storefront and spreadsheet exports), normalizes prices
and SKUs, deduplicates them against the catalog and keeps the semantic search
index in sync.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), v, cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.Int("workers", 0, "number of concurrent fetch workers")
	for key, name := range map[string]string{
		"logging.level":   "log-level",
		"harvest.workers": "workers",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	cmd.AddCommand(
		newHarvestCmd(),
		newEmbedCmd(),
		newReconcileCmd(),
		newSearchCmd(),
		newServeCmd(),
	)
	closeApp := func() {
		if built != nil {
			built.Close()
			built = nil
		}
	}
	return cmd, closeApp
}

// Execute is the main entry point. It returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, closeApp := newRootCmd()
	defer closeApp()
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

