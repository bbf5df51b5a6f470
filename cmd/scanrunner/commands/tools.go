package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/scanrunner/internal/toolrunner"
)

type toolStatus struct {
	tool      toolrunner.Tool
	available bool
	version   string
	err       error
}

func NewToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Check which configured tools are installed",
		Long: `Run the preflight version check for every configured tool and print
whether each one is usable. Exits 1 if any tool is unavailable.`,
		Args: cobra.NoArgs,
		RunE: runTools,
	}
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	names := cfg.ToolNames()
	statuses := make([]toolStatus, len(names))
	logger := logrus.StandardLogger()

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(4)
	for i, name := range names {
		tool, err := toolrunner.ToolFromConfig(cfg, name)
		if err != nil {
			return err
		}
		i := i
		g.Go(func() error {
			r := toolrunner.NewRunner(tool, nil, logger)
			st := toolStatus{tool: tool}
			st.version, st.err = r.Probe(ctx)
			st.available = st.err == nil
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tPATH\tSTATUS\tVERSION")
	missing := 0
	for _, st := range statuses {
		status := "ok"
		if !st.available {
			status = "unavailable"
			missing++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.tool.Name, st.tool.Path, status, orDash(st.version))
	}
	_ = w.Flush()

	for _, st := range statuses {
		if st.err != nil {
			logger.Debugf("%s preflight: %v", st.tool.Name, st.err)
		}
	}
	if missing > 0 {
		return &ExitError{Code: toolrunner.ExitFailure}
	}
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
