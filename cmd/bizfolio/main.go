package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/bizfolio/internal/config"
	"github.com/life-stream-dev/bizfolio/internal/database"
	"github.com/life-stream-dev/bizfolio/internal/event"
	"github.com/life-stream-dev/bizfolio/internal/logger"
)

func main() {
	code := 0
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		code = 1
	}
	event.NewCleaner().Shutdown(code)
}

// app carries what every subcommand shares once the configuration is loaded.
type app struct {
	configPath string
	cfg        config.Config
	cleaner    *event.Cleaner
}

// optionalConfig marks commands that fall back to defaults when no
// configuration file exists.
const optionalConfig = "optional-config"

func newRootCmd() *cobra.Command {
	a := &app{cleaner: event.NewCleaner()}

	root := &cobra.Command{
		Use:           "bizfolio",
		Short:         "Business portfolio live state and platform actions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Annotations[optionalConfig] == "true")
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.Path(), "configuration file (json or yaml)")

	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newDirectionsCmd(a))
	root.AddCommand(newContactCmd(a))
	root.AddCommand(newGeocodeCmd(a))
	root.AddCommand(newReverseCmd(a))
	root.AddCommand(newDistanceCmd(a))
	root.AddCommand(newCountCmd(a))
	root.AddCommand(newQRCmd(a))
	return root
}

func (a *app) init(optional bool) error {
	cfg, err := a.loadConfig(optional)
	if err != nil {
		return fmt.Errorf("error occured while reading config: %w", err)
	}
	a.cfg = cfg

	loggerCallback := logger.InitWith(cfg)
	logger.Debug("Application initializing...")
	a.cleaner.Init(loggerCallback)
	return nil
}

func (a *app) loadConfig(optional bool) (config.Config, error) {
	if optional {
		if _, err := os.Stat(a.configPath); errors.Is(err, os.ErrNotExist) {
			return config.Defaults(), nil
		}
	}
	return config.ReadConfigFrom(a.configPath)
}

// openStore returns the in-process store when memory is set, MongoDB otherwise.
// The connection is closed by the shutdown cleaner.
func (a *app) openStore(ctx context.Context, memory bool) (database.Store, error) {
	if memory {
		logger.Info("Using in-memory store, nothing will be persisted")
		return database.NewMemoryStore(), nil
	}
	m, err := database.ConnectDatabase(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("error occured while initializing database: %w", err)
	}
	a.cleaner.Add("database", event.CallableFunc(m.Close))
	return m, nil
}
