package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/scanrunner/internal/storage"
	"github.com/bl4ck0w1/scanrunner/internal/toolrunner"
	"github.com/bl4ck0w1/scanrunner/pkg/models"
	"github.com/bl4ck0w1/scanrunner/pkg/utils"
)

var builtinTools = map[string]string{
	"subfinder": "Enumerate subdomains of a domain with subfinder",
	"chaos":     "Discover assets of a domain with chaos",
}

// NewToolCommands returns one "<tool> <domain>" command per built-in tool.
func NewToolCommands() []*cobra.Command {
	names := models.DefaultConfig().ToolNames()
	cmds := make([]*cobra.Command, 0, len(names))
	for _, name := range names {
		cmds = append(cmds, NewToolCommand(name))
	}
	return cmds
}

func NewToolCommand(name string) *cobra.Command {
	short := builtinTools[name]
	if short == "" {
		short = "Run " + name + " against a domain"
	}
	return &cobra.Command{
		Use:   name + " <domain>",
		Short: short,
		Long: fmt.Sprintf(`Check that %s is installed, run it against the domain with a bounded
timeout and save its output to a timestamped file in the output directory.`, name),
		Args: requireDomain,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolScan(cmd.Context(), name, args[0])
		},
	}
}

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <domain>",
		Short: "Run any configured tool against a domain",
		Long: `Run a tool from the configuration's tool table against a domain.
The built-in tools also have their own commands ("subfinder", "chaos").`,
		Args: requireDomain,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolScan(cmd.Context(), viper.GetString("scan.tool"), args[0])
		},
	}

	cmd.Flags().StringP("tool", "t", "subfinder", "Tool to run (a key of the tools table)")
	_ = viper.BindPFlag("scan.tool", cmd.Flags().Lookup("tool"))
	return cmd
}

func requireDomain(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "[!] Error: Please provide a domain to scan")
		fmt.Fprintf(out, "Usage: %s example.com\n", cmd.CommandPath())
		return &ExitError{Code: toolrunner.ExitFailure}
	}
	if len(args) > 1 {
		return fmt.Errorf("accepts one domain, received %d arguments", len(args))
	}
	return nil
}

func runToolScan(ctx context.Context, toolName, domain string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	tool, err := toolrunner.ToolFromConfig(cfg, toolName)
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()
	opts := []toolrunner.Option{toolrunner.WithVirtualEnv(cfg.VenvDirectory)}

	var metrics *utils.MetricsCollector
	if cfg.MetricsFile != "" {
		if metrics, err = utils.NewScanMetrics(cfg.MetricsRuntime); err != nil {
			logger.Warnf("Metrics disabled: %v", err)
		} else {
			opts = append(opts, toolrunner.WithMetrics(metrics))
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewLocalStorage(cfg.OutputDirectory, logger)
	runner := toolrunner.NewRunner(tool, store, logger, opts...)
	code := runner.Run(ctx, models.ScanRequest{Domain: domain})

	if metrics != nil {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warnf("Failed to write metrics: %v", err)
		}
	}

	if code != toolrunner.ExitSuccess {
		logger.Warn("Scan completed with errors or warnings")
		return &ExitError{Code: code}
	}
	utils.Success(logger, "Scan completed successfully")
	return nil
}
