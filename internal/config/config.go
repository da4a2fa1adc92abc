// Package config loads the process-wide settings a shard manager replica
// needs before it can serve any PG: the shard-ID width W (§3), the wire
// framing block size (§4.2), and the superblock family name (§4.4). The
// load/validate/apply shape follows the teacher's node-bootstrap config,
// but file format follows the wider pack's convention of a plain YAML
// document (gopkg.in/yaml.v3), as used by orbas1-Synnergy's devnet loader.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodestore/shardmgr/internal/shard"
)

// Config is the on-disk shape of a replica's shard-manager settings.
type Config struct {
	ShardIDWidth    uint   `yaml:"shard_id_width"`
	BlockSizeBytes  int    `yaml:"block_size_bytes"`
	SuperblockFamily string `yaml:"superblock_family,omitempty"`
}

// Default matches the spec's defaults: W=32 (§3), a 4 KiB framing block
// (§4.2 "multiple of the device's block size").
func Default() Config {
	return Config{
		ShardIDWidth:   32,
		BlockSizeBytes: 4096,
	}
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config is internally consistent before Apply.
func (c Config) Validate() error {
	if c.ShardIDWidth == 0 || c.ShardIDWidth >= 64 {
		return fmt.Errorf("shard_id_width must be in (0, 64), got %d", c.ShardIDWidth)
	}
	if c.BlockSizeBytes <= 0 {
		return fmt.Errorf("block_size_bytes must be positive, got %d", c.BlockSizeBytes)
	}
	return nil
}

// Apply installs the shard-ID width as the package-wide setting (§3, "a
// fixed width shared by all replicas"). Must be called before any PG is
// created on this replica.
func (c Config) Apply() {
	shard.Width = c.ShardIDWidth
}
