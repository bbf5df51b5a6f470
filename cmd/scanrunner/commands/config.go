package commands

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/bl4ck0w1/scanrunner/pkg/models"
)

// ExitError carries a process exit status that has already been reported to
// the user, so the caller should exit without printing anything else.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// SetDefaults registers every configuration key with viper so config files and
// SCANRUNNER_* environment variables can override any of them.
func SetDefaults() {
	def := models.DefaultConfig()
	viper.SetDefault("log_level", def.LogLevel)
	viper.SetDefault("log_format", def.LogFormat)
	viper.SetDefault("log_file", def.LogFile)
	viper.SetDefault("log_output", def.LogOutput)
	viper.SetDefault("log_max_size", def.LogMaxSize)
	viper.SetDefault("log_max_backups", def.LogMaxBackups)
	viper.SetDefault("log_max_age", def.LogMaxAge)
	viper.SetDefault("quiet", def.Quiet)
	viper.SetDefault("output_directory", def.OutputDirectory)
	viper.SetDefault("venv_directory", def.VenvDirectory)
	viper.SetDefault("metrics_file", def.MetricsFile)
	viper.SetDefault("metrics_runtime", def.MetricsRuntime)

	for _, name := range def.ToolNames() {
		tc := def.Tools[name]
		prefix := "tools." + name + "."
		viper.SetDefault(prefix+"path", tc.Path)
		viper.SetDefault(prefix+"display_name", tc.DisplayName)
		viper.SetDefault(prefix+"version_flag", tc.VersionFlag)
		viper.SetDefault(prefix+"scan_args", tc.ScanArgs)
		viper.SetDefault(prefix+"preflight_timeout", tc.PreflightTimeout.String())
		viper.SetDefault(prefix+"scan_timeout", tc.ScanTimeout.String())
		viper.SetDefault(prefix+"min_version", tc.MinVersion)
		viper.SetDefault(prefix+"salvage_on_timeout", tc.SalvageOnTimeout)
	}
}

// LoadConfig decodes the effective viper settings into a validated Config.
func LoadConfig() (*models.Config, error) {
	cfg := models.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
