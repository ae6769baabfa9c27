package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BuildIntervalMs != 3000 {
		t.Errorf("BuildIntervalMs = %d, want 3000", cfg.BuildIntervalMs)
	}
	if cfg.BuildThreshold != 1_000_000 {
		t.Errorf("BuildThreshold = %d, want 1000000", cfg.BuildThreshold)
	}
	if cfg.ContractWaitingTimeUs != 3_000_000 {
		t.Errorf("ContractWaitingTimeUs = %d, want 3000000", cfg.ContractWaitingTimeUs)
	}
	if cfg.DirtyContractExpiryUs != 60_000_000 {
		t.Errorf("DirtyContractExpiryUs = %d, want 60000000", cfg.DirtyContractExpiryUs)
	}
	if cfg.PreHashQuorumFraction != 0.80 {
		t.Errorf("PreHashQuorumFraction = %v, want 0.80", cfg.PreHashQuorumFraction)
	}
	if cfg.BlockAcceptanceRate != 0.66 {
		t.Errorf("BlockAcceptanceRate = %v, want 0.66", cfg.BlockAcceptanceRate)
	}
}

func TestValidateRequiresNodeID(t *testing.T) {
	cfg, _ := Load()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing NodeID")
	}
	cfg.NodeID = "node-1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateForDevelopment(t *testing.T) {
	cfg, _ := Load()
	if err := cfg.ValidateForDevelopment(); err != nil {
		t.Fatalf("ValidateForDevelopment: %v", err)
	}
	if cfg.NodeID == "" {
		t.Error("expected a dev NodeID to be assigned")
	}
}

func TestLoadHonorsEnvOverride(t *testing.T) {
	os.Setenv("BUILD_INTERVAL_MS", "500")
	defer os.Unsetenv("BUILD_INTERVAL_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BuildIntervalMs != 500 {
		t.Errorf("BuildIntervalMs = %d, want 500", cfg.BuildIntervalMs)
	}
}
