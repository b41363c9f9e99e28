// Package config loads the miner's process configuration: gateway URL,
// chunk size, storage paths, and listen addresses. Deliberately thin per
// spec.md §1's Non-goal on CLI/config as a full subsystem — this is one
// YAML file parsed once at startup, not a layered config framework.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmc-network/dsg-miner/types"
)

// Config is the top-level shape of the miner's YAML config file.
type Config struct {
	// ChainURL is the base URL of the DMC chain node's /v1/chain/* API.
	ChainURL string `yaml:"chain_url"`
	// ChainID is the hex-encoded chain id used in transaction signing.
	ChainID string `yaml:"chain_id"`
	// MinerAccount is the on-chain account name this miner answers
	// challenges and submits actions as.
	MinerAccount string `yaml:"miner_account"`

	// SignerKeyPath is a file holding the miner's hex-encoded secp256k1
	// private key, shared by the chain signer and the wire signer.
	SignerKeyPath string `yaml:"signer_key_path"`

	// DBPath is the sqlite file backing the Meta Store.
	DBPath string `yaml:"db_path"`
	// ChunkStoreDir is the base directory backing the Chunk Store.
	ChunkStoreDir string `yaml:"chunk_store_dir"`

	// ChunkSize, a power-of-two multiple of 1024, sets the process-wide
	// Merkle Engine's persisted-layer floor (log2(ChunkSize/1024)). Zero
	// falls back to types.DefaultChunkSize. It does not set a contract's
	// chunk size: that comes from the contract record, or
	// types.DefaultChunkSize when the record leaves it unset.
	ChunkSize uint64 `yaml:"chunk_size"`

	// ListenAddr is the customer/miner wire endpoint's listen address.
	ListenAddr string `yaml:"listen_addr"`
	// EnableCache turns on the optional public HTTP cache listener
	// (spec.md §9), off by default.
	EnableCache bool `yaml:"enable_cache"`
	// CacheListenAddr overrides wire.CacheListenAddr when EnableCache is
	// set; empty uses the default 0.0.0.0:32855.
	CacheListenAddr string `yaml:"cache_listen_addr"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewError(types.Fatal, fmt.Errorf("config: read %s: %w", path, err))
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, types.NewError(types.Fatal, fmt.Errorf("config: parse %s: %w", path, err))
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = types.DefaultChunkSize
	}
	if c.DBPath == "" {
		c.DBPath = "dsg-miner.db"
	}
	if c.ChunkStoreDir == "" {
		c.ChunkStoreDir = "chunks"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:32850"
	}
}

func (c *Config) validate() error {
	if c.ChainURL == "" {
		return types.NewError(types.InvalidInput, fmt.Errorf("config: chain_url is required"))
	}
	if c.MinerAccount == "" {
		return types.NewError(types.InvalidInput, fmt.Errorf("config: miner_account is required"))
	}
	if c.SignerKeyPath == "" {
		return types.NewError(types.InvalidInput, fmt.Errorf("config: signer_key_path is required"))
	}
	return nil
}
