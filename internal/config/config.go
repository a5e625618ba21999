// Package config resolves orchestrator settings from a YAML file overlaid
// with environment variables. Environment always wins.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile = "TENEX_CONFIG_FILE"

	tenexDirName            = ".tenex"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"

	defaultRelayWSURL      = "ws://127.0.0.1:8080/ws"
	defaultModelBaseURL    = "http://127.0.0.1:8089"
	defaultDBDriver        = "sqlite"
	defaultDBDSN           = "orchestrator.db"
	defaultComponentID     = "orchestrator-core"
	defaultWorkspaceDir    = ".tenex/workspaces"
	defaultInterjectDelay  = 30 * time.Second
	defaultRunQueueSize    = 256
	defaultDispatchRetries = 3
	defaultDispatchBackoff = 150 * time.Millisecond
)

type Config struct {
	RelayWSURL      string
	ModelBaseURL    string
	DBDriver        string
	DBDSN           string
	ComponentID     string
	WorkspaceDir    string
	SystemPrompt    string
	WebhookURL      string
	InterjectDelay  time.Duration
	RunQueueSize    int
	DispatchRetries int
	DispatchBackoff time.Duration
}

type fileConfig struct {
	Version      int              `yaml:"version"`
	Orchestrator fileOrchestrator `yaml:"orchestrator"`
}

type fileOrchestrator struct {
	RelayWSURL      string `yaml:"relay_ws_url"`
	ModelBaseURL    string `yaml:"model_base_url"`
	DBDriver        string `yaml:"db_driver"`
	DBDSN           string `yaml:"db_dsn"`
	ComponentID     string `yaml:"component_id"`
	WorkspaceDir    string `yaml:"workspace_dir"`
	SystemPrompt    string `yaml:"system_prompt"`
	WebhookURL      string `yaml:"webhook_url"`
	InterjectDelay  string `yaml:"interject_delay"`
	RunQueueSize    int    `yaml:"run_queue_size"`
	DispatchRetries int    `yaml:"dispatch_retries"`
	DispatchBackoff string `yaml:"dispatch_backoff"`
}

func Load() (Config, error) {
	file, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RelayWSURL:     firstNonEmpty(envString("TENEX_RELAY_WS_URL"), file.Orchestrator.RelayWSURL, defaultRelayWSURL),
		ModelBaseURL:   firstNonEmpty(envString("TENEX_MODEL_BASE_URL"), file.Orchestrator.ModelBaseURL, defaultModelBaseURL),
		DBDriver:       firstNonEmpty(envString("TENEX_DB_DRIVER"), file.Orchestrator.DBDriver, defaultDBDriver),
		DBDSN:          firstNonEmpty(envString("TENEX_DB_DSN"), file.Orchestrator.DBDSN, defaultDBDSN),
		ComponentID:    firstNonEmpty(envString("TENEX_COMPONENT_ID"), file.Orchestrator.ComponentID, defaultComponentID),
		WorkspaceDir:   firstNonEmpty(envString("TENEX_WORKSPACE_DIR"), file.Orchestrator.WorkspaceDir, defaultWorkspaceDir),
		SystemPrompt:   firstNonEmpty(envString("TENEX_SYSTEM_PROMPT"), file.Orchestrator.SystemPrompt, ""),
		WebhookURL:     firstNonEmpty(envString("TENEX_WEBHOOK_URL"), file.Orchestrator.WebhookURL, ""),
		InterjectDelay:  defaultInterjectDelay,
		RunQueueSize:    defaultRunQueueSize,
		DispatchRetries: defaultDispatchRetries,
		DispatchBackoff: defaultDispatchBackoff,
	}

	if raw := firstNonEmpty(envString("TENEX_INTERJECT_DELAY"), file.Orchestrator.InterjectDelay, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TENEX_INTERJECT_DELAY is invalid: %w", err)
		}
		cfg.InterjectDelay = d
	}
	if raw := firstNonEmpty(envString("TENEX_DISPATCH_BACKOFF"), file.Orchestrator.DispatchBackoff, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("TENEX_DISPATCH_BACKOFF is invalid: %w", err)
		}
		cfg.DispatchBackoff = d
	}
	if n, ok, err := intSetting("TENEX_RUN_QUEUE_SIZE", file.Orchestrator.RunQueueSize); err != nil {
		return Config{}, err
	} else if ok {
		cfg.RunQueueSize = n
	}
	if n, ok, err := intSetting("TENEX_DISPATCH_RETRIES", file.Orchestrator.DispatchRetries); err != nil {
		return Config{}, err
	} else if ok {
		cfg.DispatchRetries = n
	}

	return cfg, nil
}

// intSetting resolves an integer setting: the environment variable wins
// over the file value; a zero file value means unset.
func intSetting(envName string, fileValue int) (int, bool, error) {
	if raw := envString(envName); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, false, fmt.Errorf("%s is invalid: %w", envName, err)
		}
		return n, true, nil
	}
	if fileValue > 0 {
		return fileValue, true, nil
	}
	return 0, false, nil
}

func (c Config) Validate() error {
	if err := validateURL("TENEX_RELAY_WS_URL", c.RelayWSURL); err != nil {
		return err
	}
	if err := validateURL("TENEX_MODEL_BASE_URL", c.ModelBaseURL); err != nil {
		return err
	}
	switch c.DBDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("TENEX_DB_DRIVER must be one of memory, sqlite, postgres; got %q", c.DBDriver)
	}
	if c.DBDriver != "memory" && strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("TENEX_DB_DSN must not be empty for driver %q", c.DBDriver)
	}
	if c.InterjectDelay <= 0 {
		return fmt.Errorf("TENEX_INTERJECT_DELAY must be positive")
	}
	if c.RunQueueSize <= 0 {
		return fmt.Errorf("TENEX_RUN_QUEUE_SIZE must be positive")
	}
	if c.DispatchRetries <= 0 {
		return fmt.Errorf("TENEX_DISPATCH_RETRIES must be positive")
	}
	if c.DispatchBackoff <= 0 {
		return fmt.Errorf("TENEX_DISPATCH_BACKOFF must be positive")
	}
	return nil
}

func validateURL(name, raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", name, err)
	}
	if strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("%s must include scheme and host", name)
	}
	return nil
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := envString(EnvConfigFile); explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", explicit, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", explicit)
		}
		return explicit, true, nil
	}

	candidates := []string{
		filepath.Join(tenexDirName, defaultConfigFileName),
		filepath.Join(tenexDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(homeDir, tenexDirName, defaultConfigFileName),
			filepath.Join(homeDir, tenexDirName, alternateConfigFileName),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}

func envString(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
