package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"TENEX_RELAY_WS_URL", "TENEX_MODEL_BASE_URL", "TENEX_DB_DRIVER", "TENEX_DB_DSN",
		"TENEX_COMPONENT_ID", "TENEX_WORKSPACE_DIR", "TENEX_SYSTEM_PROMPT",
		"TENEX_WEBHOOK_URL", "TENEX_INTERJECT_DELAY", "TENEX_RUN_QUEUE_SIZE",
		"TENEX_DISPATCH_RETRIES", "TENEX_DISPATCH_BACKOFF",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, ""))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RelayWSURL != defaultRelayWSURL {
		t.Fatalf("expected default relay url, got %q", cfg.RelayWSURL)
	}
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != defaultDBDSN {
		t.Fatalf("expected sqlite defaults, got %q %q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.InterjectDelay != defaultInterjectDelay {
		t.Fatalf("expected default interject delay, got %v", cfg.InterjectDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, `
version: 1
orchestrator:
  relay_ws_url: ws://relay.internal:9000/ws
  db_driver: postgres
  db_dsn: host=db user=tenex dbname=orchestrator
  interject_delay: 45s
  run_queue_size: 32
`))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RelayWSURL != "ws://relay.internal:9000/ws" {
		t.Fatalf("file relay url not applied: %q", cfg.RelayWSURL)
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("file db driver not applied: %q", cfg.DBDriver)
	}
	if cfg.InterjectDelay != 45*time.Second {
		t.Fatalf("file interject delay not applied: %v", cfg.InterjectDelay)
	}
	if cfg.RunQueueSize != 32 {
		t.Fatalf("file queue size not applied: %d", cfg.RunQueueSize)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, `
orchestrator:
  db_driver: postgres
  interject_delay: 45s
`))
	t.Setenv("TENEX_DB_DRIVER", "memory")
	t.Setenv("TENEX_INTERJECT_DELAY", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDriver != "memory" {
		t.Fatalf("environment should override the file, got %q", cfg.DBDriver)
	}
	if cfg.InterjectDelay != 5*time.Second {
		t.Fatalf("environment delay should win, got %v", cfg.InterjectDelay)
	}
}

func TestIntSettingsEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, `
orchestrator:
  run_queue_size: 32
  dispatch_retries: 5
  dispatch_backoff: 1s
`))
	t.Setenv("TENEX_RUN_QUEUE_SIZE", "64")
	t.Setenv("TENEX_DISPATCH_RETRIES", "2")
	t.Setenv("TENEX_DISPATCH_BACKOFF", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.RunQueueSize != 64 {
		t.Fatalf("environment queue size should win, got %d", cfg.RunQueueSize)
	}
	if cfg.DispatchRetries != 2 {
		t.Fatalf("environment retries should win, got %d", cfg.DispatchRetries)
	}
	if cfg.DispatchBackoff != 250*time.Millisecond {
		t.Fatalf("environment backoff should win, got %v", cfg.DispatchBackoff)
	}
}

func TestLoadRejectsBadQueueSize(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, ""))
	t.Setenv("TENEX_RUN_QUEUE_SIZE", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("unparseable queue size should fail load")
	}
}

func TestValidateRejectsBadDriver(t *testing.T) {
	cfg := Config{
		RelayWSURL:     defaultRelayWSURL,
		ModelBaseURL:   defaultModelBaseURL,
		DBDriver:       "oracle",
		DBDSN:          "x",
		InterjectDelay: time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown driver should fail validation")
	}
}

func TestValidateRejectsBadURL(t *testing.T) {
	cfg := Config{
		RelayWSURL:     "not a url",
		ModelBaseURL:   defaultModelBaseURL,
		DBDriver:       "memory",
		InterjectDelay: time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("relay url without scheme should fail validation")
	}
}

func TestLoadRejectsBadDelay(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvConfigFile, writeConfigFile(t, ""))
	t.Setenv("TENEX_INTERJECT_DELAY", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("unparseable delay should fail load")
	}
}
