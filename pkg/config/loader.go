package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// Load reads the config file, applies environment overrides, and returns a
// merged Config. A missing file produces defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)
	cfg.Agent.APIKey = expandEnvVars(cfg.Agent.APIKey)
	return cfg, nil
}

// applyEnvOverrides reads FRONTDESK_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FRONTDESK_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FRONTDESK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("FRONTDESK_AGENT_URL"); v != "" {
		cfg.Agent.URL = v
	}
	if v := os.Getenv("FRONTDESK_AGENT_API_KEY"); v != "" {
		cfg.Agent.APIKey = v
	}
	if v := os.Getenv("FRONTDESK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FRONTDESK_TRANSFER_NUMBER"); v != "" {
		cfg.Transfer.Number = v
	}
	if v := os.Getenv("FRONTDESK_SILENCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Turns.SilenceMS = ms
		}
	}
}
