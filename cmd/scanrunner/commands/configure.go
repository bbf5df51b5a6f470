package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/scanrunner/pkg/models"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage scanrunner configuration",
		Long: `Initialize a configuration file with the default tool table, or show
the effective configuration after files, environment and flags are merged.`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Long:  `Write the default configuration (YAML) to path, or to $HOME/.scanrunner/config.yaml.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureInit,
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing file without asking")
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Show the effective configuration. With --file, show and validate that file
on its own, on top of the built-in defaults, ignoring environment and flags.`,
		Args: cobra.NoArgs,
		RunE: runConfigureShow,
	}
	cmd.Flags().String("file", "", "Show this configuration file instead of the effective settings")
	return cmd
}

func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".scanrunner", "config.yaml"), nil
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) > 0 {
		path = strings.TrimSpace(args[0])
	}
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			logrus.Warnf("Configuration file already exists: %s", path)
			ok, err := confirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !ok {
				logrus.Info("Configuration initialization cancelled")
				return nil
			}
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	logrus.Infof("Configuration initialized: %s", path)
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	var cfg *models.Config
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		cfg = models.DefaultConfig()
		if err := cfg.Load(file); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	} else {
		var err error
		if cfg, err = LoadConfig(); err != nil {
			return err
		}
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func confirmOverwrite(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "Configuration file already exists. Overwrite? (y/N): ")
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}
