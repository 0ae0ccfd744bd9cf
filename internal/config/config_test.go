package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != DefaultDBPath {
		t.Errorf("expected db path %s, got %s", DefaultDBPath, cfg.Database.Path)
	}

	if cfg.Scheduler.PollInterval != DefaultPollInterval {
		t.Errorf("expected poll interval %v, got %v", DefaultPollInterval, cfg.Scheduler.PollInterval)
	}

	if cfg.Scheduler.HandlerTimeout != DefaultHandlerTimeout {
		t.Errorf("expected handler timeout %v, got %v", DefaultHandlerTimeout, cfg.Scheduler.HandlerTimeout)
	}

	if cfg.Metrics.Enabled {
		t.Error("expected metrics to be disabled by default")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_PollIntervalTooShort(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.PollInterval = 100 * time.Millisecond

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error for short poll interval")
	}

	errs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	found := false
	for _, e := range errs {
		if e.Field == "scheduler.poll_interval" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected error for scheduler.poll_interval field")
	}
}

func TestValidate_ClaimLeaseShorterThanTimeout(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.HandlerTimeout = time.Hour
	cfg.Scheduler.ClaimLease = time.Minute

	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for claim lease shorter than handler timeout")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_Metrics(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MetricsConfig
		wantErr bool
	}{
		{"disabled ignores fields", MetricsConfig{Enabled: false}, false},
		{"valid", MetricsConfig{Enabled: true, Address: ":9464", Path: "/metrics"}, false},
		{"missing address", MetricsConfig{Enabled: true, Path: "/metrics"}, true},
		{"relative path", MetricsConfig{Enabled: true, Address: ":9464", Path: "metrics"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateMetrics(&tt.cfg)
			if (len(errs) > 0) != tt.wantErr {
				t.Errorf("validateMetrics() errors = %v, wantErr %v", errs, tt.wantErr)
			}
		})
	}
}

func TestValidate_DispatchBurst(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.DispatchRate = 5
	cfg.Scheduler.DispatchBurst = 0

	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for zero burst with a dispatch rate")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "scheduler.yaml")

	content := `
database:
  path: "test.db"
scheduler:
  poll_interval: 10s
  batch_size: 25
logging:
  level: "debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "test.db" {
		t.Errorf("expected db path test.db, got %s", cfg.Database.Path)
	}

	if cfg.Scheduler.PollInterval != 10*time.Second {
		t.Errorf("expected poll interval 10s, got %v", cfg.Scheduler.PollInterval)
	}

	if cfg.Scheduler.BatchSize != 25 {
		t.Errorf("expected batch size 25, got %d", cfg.Scheduler.BatchSize)
	}

	if cfg.Scheduler.HandlerTimeout != DefaultHandlerTimeout {
		t.Errorf("expected default handler timeout, got %v", cfg.Scheduler.HandlerTimeout)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("SCHEDULERD_DATABASE_PATH", "env-test.db")
	t.Setenv("SCHEDULERD_SCHEDULER_BATCH_SIZE", "7")

	cfg, err := Load(LoadOptions{ConfigFile: writeEmptyConfig(t)})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "env-test.db" {
		t.Errorf("expected db path env-test.db from env, got %s", cfg.Database.Path)
	}

	if cfg.Scheduler.BatchSize != 7 {
		t.Errorf("expected batch size 7 from env, got %d", cfg.Scheduler.BatchSize)
	}
}

func TestLoad_ExpandsEnvReferences(t *testing.T) {
	t.Setenv("SCHED_TEST_DB", "expanded.db")

	configPath := filepath.Join(t.TempDir(), "scheduler.yaml")
	content := "database:\n  path: \"${SCHED_TEST_DB}\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "expanded.db" {
		t.Errorf("expected expanded db path, got %s", cfg.Database.Path)
	}
}

func writeEmptyConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}
