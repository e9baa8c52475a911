// Package config loads node configuration from TOML. Keys left out of the
// file keep the values from DefaultNodeConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arx-os/arxlink/internal/keys"
	"github.com/arx-os/arxlink/internal/logging"
	"github.com/arx-os/arxlink/internal/mesh"
	"github.com/arx-os/arxlink/internal/protocol/frame"
	"github.com/arx-os/arxlink/internal/protocol/invite"
	"github.com/arx-os/arxlink/internal/protocol/object"
	"github.com/arx-os/arxlink/internal/protocol/replay"
	"github.com/arx-os/arxlink/internal/radio"
	"github.com/arx-os/arxlink/internal/registry"
)

const (
	RadioUDP = "udp"

	DefaultRXQueue            = 32
	DefaultCheckpointInterval = 30 * time.Second
	DefaultAnnounceInterval   = 5 * time.Minute
	DefaultStalledInterval    = time.Minute
)

var ErrInvalidConfig = errors.New("config: invalid")

type KeysConfig struct {
	MasterKey     string
	MasterKeyFile string
	Roster        []uint16
	Peers         map[uint16]string
}

type MeshConfig struct {
	MaxHops          uint8
	DefaultHops      uint8
	ReplayCapacity   int
	NeighborCapacity int
	NeighborTimeout  time.Duration
	ReserveBlock     uint32
}

type NodeConfig struct {
	NodeID      uint16
	BuildingID  uint16
	Role        invite.Role
	MaxDetail   uint8
	StorePath   string
	MetricsAddr string
	LogLevel    string

	RXQueue            int
	CheckpointInterval time.Duration
	AnnounceInterval   time.Duration
	StalledInterval    time.Duration

	Keys      KeysConfig
	Mesh      MeshConfig
	Registry  registry.Config
	RadioKind string
	Radio     radio.Config
}

func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Role:               invite.RoleTech,
		MaxDetail:          object.MaxDetailLevel,
		StorePath:          "arxnode.db",
		LogLevel:           "info",
		RXQueue:            DefaultRXQueue,
		CheckpointInterval: DefaultCheckpointInterval,
		AnnounceInterval:   DefaultAnnounceInterval,
		StalledInterval:    DefaultStalledInterval,
		Mesh: MeshConfig{
			MaxHops:          mesh.DefaultMaxHops,
			DefaultHops:      frame.DefaultHops,
			ReplayCapacity:   replay.DefaultCapacity,
			NeighborCapacity: mesh.DefaultNeighborCapacity,
			NeighborTimeout:  mesh.DefaultNeighborTimeout,
			ReserveBlock:     frame.DefaultReserveBlock,
		},
		Registry:  registry.DefaultConfig(),
		RadioKind: RadioUDP,
		Radio:     radio.DefaultConfig(),
	}
}

type fileConfig struct {
	NodeID             int64        `toml:"node_id"`
	BuildingID         int64        `toml:"building_id"`
	Role               string       `toml:"role"`
	MaxDetail          int64        `toml:"max_detail"`
	Store              string       `toml:"store"`
	MetricsAddr        string       `toml:"metrics_addr"`
	LogLevel           string       `toml:"log_level"`
	RXQueue            int          `toml:"rx_queue"`
	CheckpointInterval string       `toml:"checkpoint_interval"`
	AnnounceInterval   string       `toml:"announce_interval"`
	StalledInterval    string       `toml:"stalled_interval"`
	Keys               fileKeys     `toml:"keys"`
	Mesh               fileMesh     `toml:"mesh"`
	Registry           fileRegistry `toml:"registry"`
	Radio              fileRadio    `toml:"radio"`
}

type fileKeys struct {
	MasterKey     string            `toml:"master_key"`
	MasterKeyFile string            `toml:"master_key_file"`
	Roster        []int64           `toml:"roster"`
	Peers         map[string]string `toml:"peers"`
}

type fileMesh struct {
	MaxHops          int64  `toml:"max_hops"`
	DefaultHops      int64  `toml:"default_hops"`
	ReplayCapacity   int    `toml:"replay_capacity"`
	NeighborCapacity int    `toml:"neighbor_capacity"`
	NeighborTimeout  string `toml:"neighbor_timeout"`
	ReserveBlock     int64  `toml:"reserve_block"`
}

type fileRegistry struct {
	Capacity   int `toml:"capacity"`
	QueueDepth int `toml:"queue_depth"`
	MaxUnknown int `toml:"max_unknown"`
}

type fileRadio struct {
	Kind         string      `toml:"kind"`
	Listen       string      `toml:"listen"`
	Peers        []string    `toml:"peers"`
	MTU          int         `toml:"mtu"`
	RXQueue      int         `toml:"rx_queue"`
	WriteTimeout string      `toml:"write_timeout"`
	TxRetries    int         `toml:"tx_retries"`
	Backoff      fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

// Load reads path over DefaultNodeConfig and validates the result.
func Load(path string) (NodeConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return NodeConfig{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}
	cfg, err := apply(DefaultNodeConfig(), raw, meta)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func apply(cfg NodeConfig, raw fileConfig, meta toml.MetaData) (NodeConfig, error) {
	var err error
	if meta.IsDefined("node_id") {
		if cfg.NodeID, err = toU16("node_id", raw.NodeID); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("building_id") {
		if cfg.BuildingID, err = toU16("building_id", raw.BuildingID); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("role") {
		if cfg.Role, err = invite.ParseRole(raw.Role); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("max_detail") {
		if raw.MaxDetail < 0 || raw.MaxDetail > object.MaxDetailLevel {
			return cfg, fmt.Errorf("%w: max_detail %d", ErrInvalidConfig, raw.MaxDetail)
		}
		cfg.MaxDetail = uint8(raw.MaxDetail)
	}
	if meta.IsDefined("store") {
		cfg.StorePath = strings.TrimSpace(raw.Store)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("rx_queue") {
		cfg.RXQueue = raw.RXQueue
	}
	if meta.IsDefined("checkpoint_interval") {
		if cfg.CheckpointInterval, err = parseDuration("checkpoint_interval", raw.CheckpointInterval); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("announce_interval") {
		if cfg.AnnounceInterval, err = parseDuration("announce_interval", raw.AnnounceInterval); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("stalled_interval") {
		if cfg.StalledInterval, err = parseDuration("stalled_interval", raw.StalledInterval); err != nil {
			return cfg, err
		}
	}

	if meta.IsDefined("keys", "master_key") {
		cfg.Keys.MasterKey = strings.TrimSpace(raw.Keys.MasterKey)
	}
	if meta.IsDefined("keys", "master_key_file") {
		cfg.Keys.MasterKeyFile = strings.TrimSpace(raw.Keys.MasterKeyFile)
	}
	if meta.IsDefined("keys", "roster") {
		cfg.Keys.Roster = make([]uint16, 0, len(raw.Keys.Roster))
		for _, id := range raw.Keys.Roster {
			v, err := toU16("keys.roster", id)
			if err != nil {
				return cfg, err
			}
			cfg.Keys.Roster = append(cfg.Keys.Roster, v)
		}
	}
	if meta.IsDefined("keys", "peers") {
		cfg.Keys.Peers = make(map[uint16]string, len(raw.Keys.Peers))
		for k, v := range raw.Keys.Peers {
			id, err := strconv.ParseUint(strings.TrimSpace(k), 10, 16)
			if err != nil {
				return cfg, fmt.Errorf("%w: keys.peers id %q", ErrInvalidConfig, k)
			}
			cfg.Keys.Peers[uint16(id)] = strings.TrimSpace(v)
		}
	}

	if meta.IsDefined("mesh", "max_hops") {
		if cfg.Mesh.MaxHops, err = toU8("mesh.max_hops", raw.Mesh.MaxHops); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("mesh", "default_hops") {
		if cfg.Mesh.DefaultHops, err = toU8("mesh.default_hops", raw.Mesh.DefaultHops); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("mesh", "replay_capacity") {
		cfg.Mesh.ReplayCapacity = raw.Mesh.ReplayCapacity
	}
	if meta.IsDefined("mesh", "neighbor_capacity") {
		cfg.Mesh.NeighborCapacity = raw.Mesh.NeighborCapacity
	}
	if meta.IsDefined("mesh", "neighbor_timeout") {
		if cfg.Mesh.NeighborTimeout, err = parseDuration("mesh.neighbor_timeout", raw.Mesh.NeighborTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("mesh", "reserve_block") {
		if raw.Mesh.ReserveBlock <= 0 || raw.Mesh.ReserveBlock > 1<<20 {
			return cfg, fmt.Errorf("%w: mesh.reserve_block %d", ErrInvalidConfig, raw.Mesh.ReserveBlock)
		}
		cfg.Mesh.ReserveBlock = uint32(raw.Mesh.ReserveBlock)
	}

	if meta.IsDefined("registry", "capacity") {
		cfg.Registry.Capacity = raw.Registry.Capacity
	}
	if meta.IsDefined("registry", "queue_depth") {
		cfg.Registry.QueueDepth = raw.Registry.QueueDepth
	}
	if meta.IsDefined("registry", "max_unknown") {
		cfg.Registry.MaxUnknown = raw.Registry.MaxUnknown
	}

	if meta.IsDefined("radio", "kind") {
		cfg.RadioKind = strings.ToLower(strings.TrimSpace(raw.Radio.Kind))
	}
	if meta.IsDefined("radio", "listen") {
		cfg.Radio.Listen = strings.TrimSpace(raw.Radio.Listen)
	}
	if meta.IsDefined("radio", "peers") {
		cfg.Radio.Peers = normalizeList(raw.Radio.Peers)
	}
	if meta.IsDefined("radio", "mtu") {
		cfg.Radio.MTU = raw.Radio.MTU
	}
	if meta.IsDefined("radio", "rx_queue") {
		cfg.Radio.RXQueue = raw.Radio.RXQueue
	}
	if meta.IsDefined("radio", "write_timeout") {
		if cfg.Radio.WriteTimeout, err = parseDuration("radio.write_timeout", raw.Radio.WriteTimeout); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("radio", "tx_retries") {
		cfg.Radio.TxRetries = raw.Radio.TxRetries
	}
	if meta.IsDefined("radio", "backoff", "initial_delay") {
		if cfg.Radio.Backoff.InitialDelay, err = parseDuration("radio.backoff.initial_delay", raw.Radio.Backoff.InitialDelay); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("radio", "backoff", "multiplier") {
		cfg.Radio.Backoff.Multiplier = raw.Radio.Backoff.Multiplier
	}
	if meta.IsDefined("radio", "backoff", "max_delay") {
		if cfg.Radio.Backoff.MaxDelay, err = parseDuration("radio.backoff.max_delay", raw.Radio.Backoff.MaxDelay); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("radio", "backoff", "jitter") {
		cfg.Radio.Backoff.Jitter = raw.Radio.Backoff.Jitter
	}
	return cfg, nil
}

func (c NodeConfig) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("%w: node_id is required", ErrInvalidConfig)
	}
	if c.BuildingID == 0 {
		return fmt.Errorf("%w: building_id is required", ErrInvalidConfig)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: role %d", ErrInvalidConfig, c.Role)
	}
	if (c.Keys.MasterKey == "") == (c.Keys.MasterKeyFile == "") {
		return fmt.Errorf("%w: exactly one of keys.master_key and keys.master_key_file is required", ErrInvalidConfig)
	}
	if c.Mesh.MaxHops == 0 {
		return fmt.Errorf("%w: mesh.max_hops must be positive", ErrInvalidConfig)
	}
	if c.Mesh.DefaultHops > c.Mesh.MaxHops {
		return fmt.Errorf("%w: mesh.default_hops %d above max_hops %d", ErrInvalidConfig, c.Mesh.DefaultHops, c.Mesh.MaxHops)
	}
	if c.RXQueue <= 0 {
		return fmt.Errorf("%w: rx_queue must be positive", ErrInvalidConfig)
	}
	if c.Mesh.ReplayCapacity <= 0 || c.Registry.Capacity <= 0 || c.Registry.QueueDepth <= 0 || c.Registry.MaxUnknown <= 0 {
		return fmt.Errorf("%w: table capacities must be positive", ErrInvalidConfig)
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("%w: checkpoint_interval must be positive", ErrInvalidConfig)
	}
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
		}
	}
	switch c.RadioKind {
	case RadioUDP:
		if strings.TrimSpace(c.Radio.Listen) == "" {
			return fmt.Errorf("%w: radio.listen is required", ErrInvalidConfig)
		}
		if len(c.Radio.Peers) == 0 {
			return fmt.Errorf("%w: radio.peers is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: radio.kind %q", ErrInvalidConfig, c.RadioKind)
	}
	if c.Radio.MTU > 0 && c.Radio.MTU < frame.Overhead+1 {
		return fmt.Errorf("%w: radio.mtu %d below frame overhead", ErrInvalidConfig, c.Radio.MTU)
	}
	if err := c.Radio.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// KeyConfig resolves the key material named by the config.
func (c NodeConfig) KeyConfig() (keys.Config, error) {
	raw := c.Keys.MasterKey
	if c.Keys.MasterKeyFile != "" {
		b, err := os.ReadFile(c.Keys.MasterKeyFile)
		if err != nil {
			return keys.Config{}, fmt.Errorf("config: read master key: %w", err)
		}
		raw = string(b)
	}
	master, err := keys.ParseKey(raw)
	if err != nil {
		return keys.Config{}, err
	}
	out := keys.Config{BuildingID: c.BuildingID, MasterKey: master, Roster: c.Keys.Roster}
	if len(c.Keys.Peers) > 0 {
		out.PeerKeys = make(map[uint16][]byte, len(c.Keys.Peers))
		for id, hexKey := range c.Keys.Peers {
			k, err := keys.ParseKey(hexKey)
			if err != nil {
				return keys.Config{}, fmt.Errorf("config: peer %d: %w", id, err)
			}
			out.PeerKeys[id] = k
		}
	}
	return out, nil
}

func toU16(name string, v int64) (uint16, error) {
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, v)
	}
	return uint16(v), nil
}

func toU8(name string, v int64) (uint8, error) {
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, v)
	}
	return uint8(v), nil
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidConfig, name)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
