package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/server"
	"github.com/spf13/cobra"
)

func msDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newEnginesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List engines and whether they are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(&rootOptions{configPath: root.configPath, logLevel: root.logLevel, noDB: true}, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), renderEngines(a.manager().Engines()))
			return nil
		},
	}
}

func newSystemCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "system",
		Short: "Show GPU and host resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(&rootOptions{configPath: root.configPath, logLevel: root.logLevel, noDB: true}, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), renderSystem(a.manager().System(cmd.Context())))
			return nil
		},
	}
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "Show recorded runs, or one run with its passes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				run, err := a.manager().GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderRun(run))
				return nil
			}

			runs, err := a.manager().Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func newRecoverCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Clean up runs interrupted by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager().RecoverInterrupted(cmd.Context())
			if n > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("Recovered %d interrupted run(s)", n)))
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("No interrupted runs"))
			}
			return err
		},
	}
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for the active run to stop on shutdown")
	return cmd
}

func serve(ctx context.Context, a *app, shutdownTimeout time.Duration) error {
	if hclog.LevelFromString(a.cfg.Logging.Level) > hclog.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if n, err := a.manager().RecoverInterrupted(ctx); err != nil {
		a.logger.Error("failed to recover interrupted runs", "error", err)
	} else if n > 0 {
		a.logger.Warn("recovered interrupted runs", "count", n)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := server.SetupRouter(a.logger, a.module)
	srv := server.New(a.cfg.Server, router, a.logger)
	serveErr := srv.Run(ctx, 10*time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.module.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("interpolation module shutdown", "error", err)
	}
	a.logger.Info("server shutdown complete")
	return serveErr
}
