package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Health is the result of probing one broker endpoint.
type Health struct {
	Endpoint Endpoint
	OK       bool
	Latency  time.Duration
	Err      error
}

// Probe connect-checks every configured endpoint in order. It is used by
// the startup health report; a run where no endpoint is healthy should be
// treated as fatal by the caller.
func Probe(cfg Config) []Health {
	cfg.SetDefaults()
	out := make([]Health, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		out = append(out, probeOne(cfg, ep))
	}
	return out
}

func probeOne(cfg Config, ep Endpoint) Health {
	opts := paho.NewClientOptions().
		AddBroker(ep.URI()).
		SetClientID(fmt.Sprintf("%s-probe-%s", cfg.ClientID, uuid.NewString()[:8])).
		SetConnectTimeout(cfg.connectTimeout()).
		SetAutoReconnect(false).
		SetConnectRetry(false)

	start := time.Now()
	cli := newPahoClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(cfg.connectTimeout()) {
		return Health{Endpoint: ep, Err: fmt.Errorf("connect timeout")}
	}
	if err := token.Error(); err != nil {
		return Health{Endpoint: ep, Err: err}
	}
	h := Health{Endpoint: ep, OK: true, Latency: time.Since(start)}
	cli.Disconnect(100)
	return h
}
