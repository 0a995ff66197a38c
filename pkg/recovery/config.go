package recovery

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the recovery strategy table.
type Config struct {
	Rules []RuleConfig `yaml:"rules"`
	Retry RetryConfig  `yaml:"retry"`
}

// RuleConfig maps one fault class onto a strategy. An empty severity
// matches any severity of the kind.
type RuleConfig struct {
	Kind     string `yaml:"kind"`
	Severity string `yaml:"severity,omitempty"`
	Strategy string `yaml:"strategy"`
}

// RetryConfig bounds automatic_retry executions.
type RetryConfig struct {
	MaxAttempts    int `yaml:"maxAttempts"`
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

// Timeout returns the retry budget as a duration.
func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// DefaultConfig returns the built-in strategy table. Unmatched fault
// classes fall back to automatic_retry at lookup time.
func DefaultConfig() *Config {
	return &Config{
		Rules: []RuleConfig{
			{Kind: KindNetworkError, Severity: SeverityMedium, Strategy: StrategyAutomaticRetry},
			{Kind: KindStateCorruption, Severity: SeverityCritical, Strategy: StrategyStateRollback},
			{Kind: KindComponentCrash, Severity: SeverityHigh, Strategy: StrategyAutomaticRetry},
			{Kind: KindPerformanceDegradation, Severity: SeverityLow, Strategy: StrategyGracefulDegradation},
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			TimeoutSeconds: 10,
		},
	}
}

// LoadConfig loads a strategy table from a YAML file.
// Supports environment variable expansion in the form ${VAR_NAME} or ${VAR_NAME:default}.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	defaults := DefaultConfig()
	if config.Retry.MaxAttempts <= 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.TimeoutSeconds <= 0 {
		config.Retry.TimeoutSeconds = defaults.Retry.TimeoutSeconds
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadConfigOrDefault loads the strategy table from path, falling back to
// the built-in table when no path is set or the file does not exist.
func LoadConfigOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.Infof("recovery config %s not found, using built-in strategy table", path)
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

// Validate validates the strategy table for common errors.
func (c *Config) Validate() error {
	known := map[string]bool{
		StrategyAutomaticRetry:      true,
		StrategyStateRollback:       true,
		StrategyGracefulDegradation: true,
		StrategyManualIntervention:  true,
	}

	seen := make(map[string]bool)
	for _, rule := range c.Rules {
		if rule.Kind == "" {
			return fmt.Errorf("rule with empty kind found")
		}
		if rule.Strategy == "" {
			return fmt.Errorf("rule for %s has empty strategy", rule.Kind)
		}
		if !known[rule.Strategy] {
			return fmt.Errorf("rule for %s names unknown strategy: %s", rule.Kind, rule.Strategy)
		}

		key := rule.Kind + "/" + rule.Severity
		if seen[key] {
			return fmt.Errorf("duplicate rule for %s severity %q", rule.Kind, rule.Severity)
		}
		seen[key] = true
	}

	return nil
}

// StrategyFor looks up the strategy for a classified fault. An exact
// (kind, severity) rule wins over a kind-only rule; anything unmatched
// falls back to automatic_retry.
func (c *Config) StrategyFor(kind, severity string) string {
	var kindOnly string
	for _, rule := range c.Rules {
		if rule.Kind != kind {
			continue
		}
		if rule.Severity == severity {
			return rule.Strategy
		}
		if rule.Severity == "" {
			kindOnly = rule.Strategy
		}
	}
	if kindOnly != "" {
		return kindOnly
	}
	return StrategyAutomaticRetry
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		// Support ${VAR:default} syntax
		parts := strings.SplitN(key, ":", 2)
		varName := parts[0]
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		value := os.Getenv(varName)
		if value == "" {
			return defaultValue
		}
		return value
	})
}
