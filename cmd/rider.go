package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/easycab/dispatch/config"
	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/sim"
)

var riderFlags struct {
	server string
	coords string
	id     int
	x      int
	y      int
}

var riderCmd = &cobra.Command{
	Use:   "rider",
	Short: "Send ride requests to the dispatch server",
	RunE:  runRider,
}

func init() {
	riderCmd.Flags().StringVar(&riderFlags.server, "server", "", "gateway address (host:port), defaults to localhost and the configured port")
	riderCmd.Flags().StringVar(&riderFlags.coords, "coords", "", "rider coordinates file (x,y,delay per line)")
	riderCmd.Flags().IntVar(&riderFlags.id, "id", 1, "user identifier for a single request")
	riderCmd.Flags().IntVar(&riderFlags.x, "x", 0, "x coordinate for a single request")
	riderCmd.Flags().IntVar(&riderFlags.y, "y", 0, "y coordinate for a single request")
	rootCmd.AddCommand(riderCmd)
}

func runRider(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := riderFlags.server
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Gateway.Port)
	}

	var riders []sim.Rider
	if riderFlags.coords != "" {
		riders, err = sim.LoadRiders(riderFlags.coords)
		if err != nil {
			return fmt.Errorf("load riders: %w", err)
		}
	} else {
		riders = []sim.Rider{{
			ID:    riderFlags.id,
			Pos:   model.Position{X: riderFlags.x, Y: riderFlags.y},
			Delay: 0,
		}}
	}

	start := time.Now()
	sim.RunRiders(ctx, riders, addr, logger.New("rider"))
	logger.New("rider").Infof("%d request(s) finished in %s", len(riders), time.Since(start).Round(time.Second))
	return nil
}
