package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/scanrunner/internal/storage"
	"github.com/bl4ck0w1/scanrunner/pkg/utils"
)

func NewResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect saved scan output",
		Long:  `List and print the timestamped result files written by previous scans.`,
	}
	cmd.AddCommand(newResultsListCommand())
	cmd.AddCommand(newResultsShowCommand())
	return cmd
}

func newResultsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved result files, newest first",
		Args:  cobra.NoArgs,
		RunE:  runResultsList,
	}
}

func newResultsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print a saved result file",
		Args:  cobra.ExactArgs(1),
		RunE:  runResultsShow,
	}
}

func resultsStore() (*storage.LocalStorage, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return storage.NewLocalStorage(cfg.OutputDirectory, logrus.StandardLogger()), nil
}

func runResultsList(cmd *cobra.Command, args []string) error {
	store, err := resultsStore()
	if err != nil {
		return err
	}
	files, err := store.ListResults()
	if err != nil {
		return fmt.Errorf("failed to list results: %w", err)
	}
	if len(files) == 0 {
		logrus.Infof("No results in %s", store.Dir())
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tCAPTURED\tSIZE")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.CapturedAt.Format(time.DateTime+".000"), utils.HumanizeBytes(f.Size))
	}
	return w.Flush()
}

func runResultsShow(cmd *cobra.Command, args []string) error {
	store, err := resultsStore()
	if err != nil {
		return err
	}
	content, err := store.LoadResult(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), content)
	return err
}
