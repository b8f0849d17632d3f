package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/easycab/dispatch/config"
	"github.com/easycab/dispatch/infra/mqtt"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Connect-check every configured broker endpoint",
	RunE:  runHealthcheck,
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	anyOK := false
	for _, h := range mqtt.Probe(cfg.MQTT) {
		if h.OK {
			anyOK = true
			fmt.Printf("%s\tCONNECTED\t%s\n", h.Endpoint, h.Latency.Round(time.Millisecond))
		} else {
			fmt.Printf("%s\tUNREACHABLE\t%v\n", h.Endpoint, h.Err)
		}
	}
	if !anyOK {
		return fmt.Errorf("no configured broker reachable")
	}
	return nil
}
