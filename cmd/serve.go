package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easycab/dispatch/app"
	"github.com/easycab/dispatch/config"
	"github.com/easycab/dispatch/infra/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch server (role taken from the configuration)",
	RunE:  runServe,
}

var replicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Run a standby instance that mirrors the primary's state",
	RunE:  runReplica,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replicaCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return runService(cfg)
}

func runReplica(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Role = config.RoleReplica
	return runService(cfg)
}

func runService(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
