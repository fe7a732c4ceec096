// Package config loads a node's cluster configuration from a YAML file, the
// way warren's cmd/warren apply.go reads its resource manifests.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk description of a cluster that every node role
// (master, storage, client, admin) loads at startup: the cluster's name and
// master list, its fixed partition/replica counts, this node's own
// identity and listen address, and the knobs that govern its connection
// pool and compression behavior.
type Config struct {
	ClusterName string   `yaml:"cluster_name"`
	MasterNodes []string `yaml:"master_nodes"`

	Partitions uint32 `yaml:"partitions"`
	Replicas   uint32 `yaml:"replicas"`

	UUID   string `yaml:"uuid"`
	Listen string `yaml:"listen"`

	// RaftBind is a master's raft transport address, distinct from Listen
	// (the client/storage-facing wire-protocol address) since the two
	// protocols don't share a socket. Unused by storage/client/admin nodes.
	RaftBind string `yaml:"raft_bind"`

	// Connector selects the transport ("tcp" is the only one implemented).
	Connector string `yaml:"connector"`
	Compress  bool   `yaml:"compress"`

	PingDelay   time.Duration `yaml:"ping_delay"`
	PingTimeout time.Duration `yaml:"ping_timeout"`

	// DataDir holds the storage's BoltDB file or a master's raft log,
	// depending on node role. Not part of the wire protocol; purely local.
	DataDir string `yaml:"data_dir"`
}

// Default returns a Config with 12 partitions, 2 replicas, the tcp
// connector and a 5s ping delay / 2s ping timeout, so a manifest only needs
// to override what it cares about.
func Default() Config {
	return Config{
		Partitions:  12,
		Replicas:    2,
		Connector:   "tcp",
		PingDelay:   5 * time.Second,
		PingTimeout: 2 * time.Second,
	}
}

// Load reads and parses a YAML manifest at path, applying Default() for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields every node role depends on regardless of
// which role it plays.
func (c Config) Validate() error {
	if c.ClusterName == "" {
		return fmt.Errorf("config: cluster_name is required")
	}
	if len(c.MasterNodes) == 0 {
		return fmt.Errorf("config: at least one master_nodes entry is required")
	}
	if c.Partitions == 0 {
		return fmt.Errorf("config: partitions must be > 0")
	}
	if c.Replicas == 0 {
		return fmt.Errorf("config: replicas must be > 0")
	}
	return nil
}
