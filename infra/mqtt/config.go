package mqtt

import (
	"fmt"
	"time"
)

// Endpoint identifies one interchangeable broker.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (e Endpoint) URI() string { return fmt.Sprintf("tcp://%s:%d", e.Address, e.Port) }

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Address, e.Port) }

// Config defines the connection parameters for the broker session.
type Config struct {
	Endpoints []Endpoint `json:"endpoints"`
	ClientID  string     `json:"client_id"`
	Username  string     `json:"username"`
	Password  string     `json:"password"`
	QoS       byte       `json:"qos"`
	// ConnectTimeoutMS bounds a single connect attempt so a stuck broker
	// cannot delay failover.
	ConnectTimeoutMS int `json:"connect_timeout_ms"`
	// ReconnectBackoffMS is the pause before trying the next endpoint.
	ReconnectBackoffMS int `json:"reconnect_backoff_ms"`
	// PublishTimeoutMS bounds the wait for a publish token.
	PublishTimeoutMS int `json:"publish_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "easycab"
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 5000
	}
	if c.ReconnectBackoffMS <= 0 {
		c.ReconnectBackoffMS = 5000
	}
	if c.PublishTimeoutMS <= 0 {
		c.PublishTimeoutMS = 2000
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one broker endpoint is required")
	}
	for _, e := range c.Endpoints {
		if e.Address == "" || e.Port <= 0 {
			return fmt.Errorf("invalid broker endpoint %q", e)
		}
	}
	return nil
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) reconnectBackoff() time.Duration {
	return time.Duration(c.ReconnectBackoffMS) * time.Millisecond
}

func (c Config) publishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}
