package radio

import (
	"fmt"
	"time"
)

const (
	DefaultMTU     = 255
	DefaultRXQueue = 32
)

// BackoffConfig defines transmit retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines radio limits and transmit reliability defaults.
type Config struct {
	// Listen is the local UDP address, e.g. ":7400".
	Listen string
	// Peers are the datagram destinations of every transmit, usually one
	// broadcast address.
	Peers        []string
	MTU          int
	RXQueue      int
	WriteTimeout time.Duration
	TxRetries    int
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Listen:       ":7400",
		Peers:        []string{"255.255.255.255:7400"},
		MTU:          DefaultMTU,
		RXQueue:      DefaultRXQueue,
		WriteTimeout: 2 * time.Second,
		TxRetries:    3,
		Backoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// withDefaults fills zero limits so a partially populated Config is usable.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MTU <= 0 {
		c.MTU = d.MTU
	}
	if c.RXQueue <= 0 {
		c.RXQueue = d.RXQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.TxRetries < 0 {
		c.TxRetries = 0
	}
	return c
}

func (c Config) Validate() error {
	if c.MTU < 0 || c.MTU > 65507 {
		return fmt.Errorf("radio: mtu %d out of range", c.MTU)
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1.0 {
		return fmt.Errorf("radio: backoff multiplier %.2f below 1", c.Backoff.Multiplier)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.MaxDelay < c.Backoff.InitialDelay {
		return fmt.Errorf("radio: backoff max_delay below initial_delay")
	}
	return nil
}
