package main

import (
	"testing"

	"github.com/fpang/blessing-relay/internal/config"
)

func TestLoadConfig_StoreOverride(t *testing.T) {
	t.Setenv("BLESSING_STORE", "memory")
	t.Setenv("BLESSING_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := loadConfig(false, "redis")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store != config.StoreMemory {
		t.Errorf("expected env store without flag, got %s", cfg.Store)
	}

	cfg, err = loadConfig(true, "redis")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Store != config.StoreRedis {
		t.Errorf("expected flag to override store, got %s", cfg.Store)
	}
}

func TestLoadConfig_StoreOverrideValidated(t *testing.T) {
	t.Setenv("BLESSING_STORE", "memory")
	t.Setenv("BLESSING_DYNAMO_TABLE", "")

	if _, err := loadConfig(true, "dynamodb"); err == nil {
		t.Error("expected error for dynamodb without a table")
	}
	if _, err := loadConfig(true, "etcd"); err == nil {
		t.Error("expected error for unknown store")
	}
}
