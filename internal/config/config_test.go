package config

import "testing"

func TestEngineDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineThreads <= 0 {
		t.Fatalf("engine threads default: got %d", cfg.EngineThreads)
	}
	if cfg.EngineHashMB <= 0 {
		t.Fatalf("engine hash default: got %d", cfg.EngineHashMB)
	}
	if cfg.EngineSkill < 0 || cfg.EngineSkill > 20 {
		t.Fatalf("engine skill default: got %d", cfg.EngineSkill)
	}
}

func TestEngineHashOverride(t *testing.T) {
	t.Setenv("ENGINE_HASH_MB", "256")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineHashMB != 256 {
		t.Fatalf("engine hash: got %d, want 256", cfg.EngineHashMB)
	}

	t.Setenv("ENGINE_HASH_MB", "bogus")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineHashMB != 64 {
		t.Fatalf("engine hash with bad env: got %d, want default 64", cfg.EngineHashMB)
	}
}
