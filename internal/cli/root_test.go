package cmd_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	cmd "github.com/rohmanhakim/polite-crawler/internal/cli"
	"github.com/rohmanhakim/polite-crawler/internal/config"
)

func TestInitConfigWithError_NoFlags(t *testing.T) {
	cmd.ResetFlags()
	t.Cleanup(cmd.ResetFlags)

	cmd.SetSeedFileForTest("seeds.txt")
	cfg, err := cmd.InitConfigWithError()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	defaultCfg, err := config.WithDefault("seeds.txt").Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}

	if cfg.DataDir() != defaultCfg.DataDir() {
		t.Errorf("DataDir() = %q, want %q", cfg.DataDir(), defaultCfg.DataDir())
	}
	if cfg.MaxWorkers() != defaultCfg.MaxWorkers() {
		t.Errorf("MaxWorkers() = %d, want %d", cfg.MaxWorkers(), defaultCfg.MaxWorkers())
	}
	if cfg.DryRun() != defaultCfg.DryRun() {
		t.Errorf("DryRun() = %t, want %t", cfg.DryRun(), defaultCfg.DryRun())
	}
	if cfg.SeedFile() != "seeds.txt" {
		t.Errorf("SeedFile() = %q, want %q", cfg.SeedFile(), "seeds.txt")
	}
}

func TestInitConfigWithError_EmptySeedFile(t *testing.T) {
	cmd.ResetFlags()
	t.Cleanup(cmd.ResetFlags)

	_, err := cmd.InitConfigWithError()
	if err == nil {
		t.Fatal("Expected error for empty seed file, got nil")
	}
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got: %v", err)
	}
}

func TestInitConfigWithError_FlagsOverrideDefaults(t *testing.T) {
	cmd.ResetFlags()
	t.Cleanup(cmd.ResetFlags)

	cmd.SetSeedFileForTest("seeds.txt")
	cmd.SetDataDirForTest("/custom/data")
	cmd.SetMaxWorkersForTest(750)
	cmd.SetRedisHostForTest("redis-prod")
	cmd.SetRedisPortForTest(6390)
	cmd.SetRedisDBForTest(3)
	cmd.SetMetricsPortForTest(9100)
	cmd.SetEmailForTest("crawler@example.com")
	cmd.SetMinFetchDelayForTest(2 * time.Second)
	cmd.SetJitterForTest(time.Second)
	cmd.SetTimeoutForTest(30 * time.Second)
	cmd.SetDryRunForTest(true)

	cfg, err := cmd.InitConfigWithError()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.DataDir() != "/custom/data" {
		t.Errorf("DataDir() = %q", cfg.DataDir())
	}
	if cfg.MaxWorkers() != 750 {
		t.Errorf("MaxWorkers() = %d", cfg.MaxWorkers())
	}
	if cfg.RedisHost() != "redis-prod" || cfg.RedisPort() != 6390 || cfg.RedisDB() != 3 {
		t.Errorf("redis fields = %s:%d/%d", cfg.RedisHost(), cfg.RedisPort(), cfg.RedisDB())
	}
	if cfg.MetricsPort() != 9100 {
		t.Errorf("MetricsPort() = %d", cfg.MetricsPort())
	}
	if cfg.UserAgent() != "polite-crawler/1.0 (+mailto:crawler@example.com)" {
		t.Errorf("UserAgent() = %q", cfg.UserAgent())
	}
	if cfg.MinFetchDelay() != 2*time.Second {
		t.Errorf("MinFetchDelay() = %v", cfg.MinFetchDelay())
	}
	if cfg.Jitter() != time.Second {
		t.Errorf("Jitter() = %v", cfg.Jitter())
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if !cfg.DryRun() {
		t.Error("DryRun() = false, want true")
	}
}

func TestInitConfigWithError_ConfigFileTakesPrecedence(t *testing.T) {
	cmd.ResetFlags()
	t.Cleanup(cmd.ResetFlags)

	dto := map[string]any{
		"seedFile":   "from-file.txt",
		"maxWorkers": 42,
	}
	raw, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cmd.SetConfigFileForTest(path)
	cmd.SetSeedFileForTest("ignored-seeds.txt")
	cmd.SetMaxWorkersForTest(999)

	cfg, err := cmd.InitConfigWithError()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.SeedFile() != "from-file.txt" {
		t.Errorf("SeedFile() = %q, want the config file's value", cfg.SeedFile())
	}
	if cfg.MaxWorkers() != 42 {
		t.Errorf("MaxWorkers() = %d, want the config file's value", cfg.MaxWorkers())
	}
}

func TestInitConfigWithError_RedisPasswordEnvOverride(t *testing.T) {
	cmd.ResetFlags()
	t.Cleanup(cmd.ResetFlags)
	t.Setenv("REDIS_PASSWORD", "env-secret")

	cmd.SetSeedFileForTest("seeds.txt")
	cmd.SetRedisPasswordForTest("flag-secret")

	cfg, err := cmd.InitConfigWithError()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.RedisPassword() != "env-secret" {
		t.Errorf("RedisPassword() = %q, want REDIS_PASSWORD env override to win", cfg.RedisPassword())
	}
}
