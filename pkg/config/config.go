// Package config loads and validates node configuration from the
// environment, following the same getEnv/Validate pattern used across the
// rest of this codebase's packages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in the external-interfaces configuration
// table.
type Config struct {
	// Ordinary-pool batcher.
	BuildIntervalMs   int   // 3000
	TxExpireIntervalS int   // 10
	BuildThreshold    int64 // 1_000_000

	// Contract dispatcher.
	ContractWaitingTimeUs int64 // 3_000_000

	// Dirty-contract registry.
	DirtyContractExpiryUs int64 // 60_000_000

	// Block builder / pre-hash quorum.
	PrevHashAwait         time.Duration // 6s
	PreHashQuorumFraction float64       // 0.80
	PreHashFallbackFrac   float64       // 0.50
	BlockAcceptanceRate   float64       // 0.66
	BlockPersistPoll      time.Duration // 1s tick
	BlockPersistTimeout   time.Duration // 2s total

	// Node identity and peers.
	NodeID     string
	ListenAddr string
	PeerFile   string // yaml peer/genesis file for pkg/p2p
	KeyPath    string // ed25519/VRF key file for pkg/signer

	// Storage backend.
	DBDir string

	// Optional BLS12-381 aggregate-signature enrichment for pre-hash quorum
	// replies (see pkg/blssig). Off by default: the primary Ed25519/VRF
	// channel is sufficient on its own.
	BLSEnabled bool
}

// Load reads Config from the environment, filling in the defaults named in
// the external-interfaces table for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		BuildIntervalMs:       getEnvInt("BUILD_INTERVAL_MS", 3000),
		TxExpireIntervalS:     getEnvInt("TX_EXPIRE_INTERVAL_S", 10),
		BuildThreshold:        getEnvInt64("BUILD_THRESHOLD", 1_000_000),
		ContractWaitingTimeUs: getEnvInt64("CONTRACT_WAITING_TIME_US", 3_000_000),
		DirtyContractExpiryUs: getEnvInt64("DIRTY_CONTRACT_EXPIRY_US", 60_000_000),
		PrevHashAwait:         getEnvDuration("PREV_HASH_AWAIT", 6*time.Second),
		PreHashQuorumFraction: getEnvFloat("PREHASH_QUORUM_FRACTION", 0.80),
		PreHashFallbackFrac:   getEnvFloat("PREHASH_FALLBACK_FRACTION", 0.50),
		BlockAcceptanceRate:   getEnvFloat("BLOCK_ACCEPTANCE_RATE", 0.66),
		BlockPersistPoll:      getEnvDuration("BLOCK_PERSIST_POLL", 1*time.Second),
		BlockPersistTimeout:   getEnvDuration("BLOCK_PERSIST_TIMEOUT", 2*time.Second),
		NodeID:                getEnv("NODE_ID", ""),
		ListenAddr:            getEnv("LISTEN_ADDR", ":26700"),
		PeerFile:              getEnv("PEER_FILE", "peers.yaml"),
		KeyPath:               getEnv("KEY_PATH", "node.key"),
		DBDir:                 getEnv("DB_DIR", "./data"),
		BLSEnabled:            getEnvBool("BLS_ENABLED", false),
	}
	return cfg, nil
}

// Validate rejects a Config that cannot safely run in production.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: NODE_ID is required")
	}
	if c.BuildIntervalMs <= 0 {
		return fmt.Errorf("config: BUILD_INTERVAL_MS must be positive")
	}
	if c.BuildThreshold <= 0 {
		return fmt.Errorf("config: BUILD_THRESHOLD must be positive")
	}
	if c.ContractWaitingTimeUs <= 0 {
		return fmt.Errorf("config: CONTRACT_WAITING_TIME_US must be positive")
	}
	if c.PreHashQuorumFraction <= 0 || c.PreHashQuorumFraction > 1 {
		return fmt.Errorf("config: PREHASH_QUORUM_FRACTION must be in (0,1]")
	}
	if c.PreHashFallbackFrac <= 0 || c.PreHashFallbackFrac > c.PreHashQuorumFraction {
		return fmt.Errorf("config: PREHASH_FALLBACK_FRACTION must be in (0, quorum fraction]")
	}
	if c.BlockAcceptanceRate <= 0 || c.BlockAcceptanceRate > 1 {
		return fmt.Errorf("config: BLOCK_ACCEPTANCE_RATE must be in (0,1]")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("config: KEY_PATH is required")
	}
	return nil
}

// ValidateForDevelopment relaxes NodeID/KeyPath requirements so the node can
// be exercised in-process without operator-supplied identity.
func (c *Config) ValidateForDevelopment() error {
	if c.NodeID == "" {
		c.NodeID = "dev-node"
	}
	if c.KeyPath == "" {
		c.KeyPath = "dev-node.key"
	}
	return c.Validate()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// parsePeerList splits a comma-separated list of base58 peer addresses,
// trimming whitespace and skipping empties.
func parsePeerList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
