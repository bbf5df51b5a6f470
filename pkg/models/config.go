package models

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DomainPlaceholder = "{domain}"

// Config is the full scanrunner configuration as decoded by viper.
type Config struct {
	LogLevel        string                `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFormat       string                `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	LogFile         string                `yaml:"log_file" json:"log_file" mapstructure:"log_file"`
	LogOutput       string                `yaml:"log_output" json:"log_output" mapstructure:"log_output"`
	LogMaxSize      int                   `yaml:"log_max_size" json:"log_max_size" mapstructure:"log_max_size"`
	LogMaxBackups   int                   `yaml:"log_max_backups" json:"log_max_backups" mapstructure:"log_max_backups"`
	LogMaxAge       int                   `yaml:"log_max_age" json:"log_max_age" mapstructure:"log_max_age"`
	Quiet           bool                  `yaml:"quiet" json:"quiet" mapstructure:"quiet"`
	OutputDirectory string                `yaml:"output_directory" json:"output_directory" mapstructure:"output_directory"`
	VenvDirectory   string                `yaml:"venv_directory" json:"venv_directory" mapstructure:"venv_directory"`
	MetricsFile     string                `yaml:"metrics_file" json:"metrics_file" mapstructure:"metrics_file"`
	MetricsRuntime  bool                  `yaml:"metrics_runtime" json:"metrics_runtime" mapstructure:"metrics_runtime"`
	Tools           map[string]ToolConfig `yaml:"tools" json:"tools" mapstructure:"tools"`
}

// ToolConfig describes how one external recon binary is located and invoked.
// ScanArgs may reference the target through DomainPlaceholder.
type ToolConfig struct {
	Path             string        `yaml:"path" json:"path" mapstructure:"path"`
	DisplayName      string        `yaml:"display_name" json:"display_name" mapstructure:"display_name"`
	VersionFlag      string        `yaml:"version_flag" json:"version_flag" mapstructure:"version_flag"`
	ScanArgs         []string      `yaml:"scan_args" json:"scan_args" mapstructure:"scan_args"`
	PreflightTimeout time.Duration `yaml:"preflight_timeout" json:"preflight_timeout" mapstructure:"preflight_timeout"`
	ScanTimeout      time.Duration `yaml:"scan_timeout" json:"scan_timeout" mapstructure:"scan_timeout"`
	MinVersion       string        `yaml:"min_version,omitempty" json:"min_version,omitempty" mapstructure:"min_version"`
	SalvageOnTimeout bool          `yaml:"salvage_on_timeout" json:"salvage_on_timeout" mapstructure:"salvage_on_timeout"`
}

func DefaultToolConfig(name string) ToolConfig {
	return ToolConfig{
		Path:             filepath.Join("/go/bin", name),
		DisplayName:      name,
		VersionFlag:      "-version",
		ScanArgs:         []string{"-d", DomainPlaceholder, "-silent"},
		PreflightTimeout: 5 * time.Second,
		ScanTimeout:      300 * time.Second,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		LogOutput:       "both",
		LogMaxSize:      100,
		LogMaxBackups:   5,
		LogMaxAge:       30,
		OutputDirectory: "outputs",
		VenvDirectory:   "venv",
		Tools: map[string]ToolConfig{
			"subfinder": DefaultToolConfig("subfinder"),
			"chaos":     DefaultToolConfig("chaos"),
		},
	}
}

// ToolNames returns the configured tool names in a stable order.
func (c *Config) ToolNames() []string {
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tool returns the named tool with unset fields filled from the defaults.
func (c *Config) Tool(name string) (ToolConfig, bool) {
	tc, ok := c.Tools[name]
	if !ok {
		return ToolConfig{}, false
	}
	def := DefaultToolConfig(name)
	if tc.Path == "" {
		tc.Path = def.Path
	}
	if tc.DisplayName == "" {
		tc.DisplayName = def.DisplayName
	}
	if tc.VersionFlag == "" {
		tc.VersionFlag = def.VersionFlag
	}
	if len(tc.ScanArgs) == 0 {
		tc.ScanArgs = def.ScanArgs
	}
	if tc.PreflightTimeout <= 0 {
		tc.PreflightTimeout = def.PreflightTimeout
	}
	if tc.ScanTimeout <= 0 {
		tc.ScanTimeout = def.ScanTimeout
	}
	return tc, true
}

func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		errs = append(errs, "log_level must be one of trace|debug|info|warn|error|fatal|panic")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, "log_format must be text or json")
	}
	switch strings.ToLower(c.LogOutput) {
	case "", "console", "file", "both":
	default:
		errs = append(errs, "log_output must be console, file or both")
	}
	if c.OutputDirectory == "" {
		errs = append(errs, "output_directory must not be empty")
	}
	if len(c.Tools) == 0 {
		errs = append(errs, "tools must define at least one tool")
	}
	for _, name := range c.ToolNames() {
		tc, _ := c.Tool(name)
		if !containsPlaceholder(tc.ScanArgs) {
			errs = append(errs, fmt.Sprintf("tools.%s.scan_args must reference %s", name, DomainPlaceholder))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomically write config: %w", err)
	}
	return nil
}

func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return c.Validate()
}

func containsPlaceholder(args []string) bool {
	for _, a := range args {
		if strings.Contains(a, DomainPlaceholder) {
			return true
		}
	}
	return false
}
