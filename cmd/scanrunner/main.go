package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/scanrunner/cmd/scanrunner/commands"
	"github.com/bl4ck0w1/scanrunner/pkg/utils"
)

var (
	version   = "1.0.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var logger *utils.Logger

var rootCmd = &cobra.Command{
	Use:   "scanrunner",
	Short: "Run installed recon tools and keep their output",
	Long: `scanrunner runs pre-installed domain reconnaissance binaries (subfinder, chaos)
against a single domain, with a preflight check and a hard timeout, and stores
whatever they print in a timestamped file under the output directory.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return initLogging()
	},
}

func Execute() int {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Close()
	}
	if err == nil {
		return 0
	}
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "[!] Error: %v\n", err)
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.scanrunner/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only print warnings and errors")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file (rotated)")
	rootCmd.PersistentFlags().String("log-output", "both", "log destination when --log-file is set (console, file, both)")
	rootCmd.PersistentFlags().StringP("output-dir", "o", "outputs", "directory for scan result files")
	rootCmd.PersistentFlags().String("metrics-file", "", "write Prometheus metrics to this textfile after a scan")
	rootCmd.PersistentFlags().Bool("metrics-runtime", false, "include Go runtime and process metrics in the textfile")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("log_output", rootCmd.PersistentFlags().Lookup("log-output"))
	_ = viper.BindPFlag("output_directory", rootCmd.PersistentFlags().Lookup("output-dir"))
	_ = viper.BindPFlag("metrics_file", rootCmd.PersistentFlags().Lookup("metrics-file"))
	_ = viper.BindPFlag("metrics_runtime", rootCmd.PersistentFlags().Lookup("metrics-runtime"))

	for _, cmd := range commands.NewToolCommands() {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewToolsCommand())
	rootCmd.AddCommand(commands.NewResultsCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))

	rootCmd.InitDefaultCompletionCmd()
	rootCmd.SetVersionTemplate(fmt.Sprintf("scanrunner %s (commit %s, built %s)\n", version, commit, buildDate))
}

func initConfig() error {
	commands.SetDefaults()
	viper.SetEnvPrefix("SCANRUNNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".scanrunner"))
		}
		viper.AddConfigPath("/etc/scanrunner/")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	} else {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
	return nil
}

func initLogging() error {
	level := viper.GetString("log_level")
	if viper.GetBool("quiet") {
		level = "warn"
	}
	logConfig := utils.LogConfig{
		Level:         level,
		Format:        viper.GetString("log_format"),
		Output:        viper.GetString("log_output"),
		FileLocation:  viper.GetString("log_file"),
		MaxSize:       viper.GetInt("log_max_size"),
		MaxBackups:    viper.GetInt("log_max_backups"),
		MaxAge:        viper.GetInt("log_max_age"),
		Compress:      true,
		EnableConsole: true,
	}

	l, err := utils.NewLogger(logConfig, "scanrunner", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[!] Failed to initialize logger, falling back to console: %v\n", err)
		fallback := utils.NewConsoleLogger(os.Stdout)
		logrus.SetOutput(fallback.Out)
		logrus.SetFormatter(fallback.Formatter)
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}
	logger = l

	logrus.SetOutput(l.Out)
	logrus.SetLevel(l.Level)
	logrus.SetFormatter(l.Formatter)
	for _, hooks := range l.Hooks {
		for _, h := range hooks {
			logrus.AddHook(h)
		}
	}
	return nil
}

func main() {
	startTime := time.Now()
	code := Execute()
	logrus.Debugf("Execution completed in %s", utils.HumanizeDuration(time.Since(startTime)))
	os.Exit(code)
}
