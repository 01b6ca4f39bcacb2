// Command frameflow interpolates image sequences with external engines and
// serves the interpolation API.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/logger"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

type rootOptions struct {
	configPath string
	logLevel   string
	noDB       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "frameflow",
		Short:         "frameflow drives frame interpolation engines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("FRAMEFLOW_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "./frameflow.yaml"
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig, "configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&opts.noDB, "no-db", false, "run without the checkpoint database")

	root.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newEnginesCmd(opts),
		newSystemCmd(opts),
		newRunsCmd(opts),
		newRecoverCmd(opts),
	)
	return root
}

// app holds everything a command needs after bootstrap.
type app struct {
	cfg    *config.Config
	logger hclog.Logger
	db     *gorm.DB
	module *interpolationmodule.Module

	logCloser io.Closer
}

// newApp loads configuration, opens the log and the checkpoint database and
// initializes the interpolation module.
func newApp(opts *rootOptions, notifier types.Notifier) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a := &app{cfg: cfg, logger: log, logCloser: closer}

	if !opts.noDB {
		a.db, err = database.Connect(cfg.Database, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.module = interpolationmodule.NewModule(cfg, a.db, log)
	if err := a.module.Init(notifier); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize interpolation module: %w", err)
	}
	return a, nil
}

func (a *app) manager() *interpolationmodule.Manager {
	return a.module.Manager()
}

// Close releases the database and the log file.
func (a *app) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, database.Close(a.db))
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}
