package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easycab/dispatch/config"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/infra/mqtt"
	"github.com/easycab/dispatch/sim"
)

var taxiFlags struct {
	id    int
	x     int
	y     int
	speed int
}

var taxiCmd = &cobra.Command{
	Use:   "taxi",
	Short: "Run a simulated taxi against the configured brokers",
	RunE:  runTaxi,
}

func init() {
	taxiCmd.Flags().IntVar(&taxiFlags.id, "id", 1, "taxi identifier")
	taxiCmd.Flags().IntVar(&taxiFlags.x, "x", 0, "initial x coordinate")
	taxiCmd.Flags().IntVar(&taxiFlags.y, "y", 0, "initial y coordinate")
	taxiCmd.Flags().IntVar(&taxiFlags.speed, "speed", 1, "cells moved per tick")
	rootCmd.AddCommand(taxiCmd)
}

func runTaxi(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("taxi-%d", taxiFlags.id)
	manager, err := mqtt.NewManager(mqttCfg, logger.New("taxi-broker"))
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Close()
	go func() {
		if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
			logger.New("taxi-broker").Errorf("broker loop: %v", err)
		}
	}()

	taxi := sim.NewTaxi(sim.TaxiConfig{
		ID:    taxiFlags.id,
		Grid:  cfg.Grid,
		Start: model.Position{X: taxiFlags.x, Y: taxiFlags.y},
		Speed: taxiFlags.speed,
	}, manager, logger.New("taxi"))
	if err := taxi.Bind(manager); err != nil {
		return err
	}
	err = taxi.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
