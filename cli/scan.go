package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/registry"
	"github.com/pflow-dev/pflow/scansched"
)

// NewScanCmd creates the "scan" subcommand.
func NewScanCmd(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <dir>...",
		Short: "Scan directories for user node-type manifests and refresh the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args, reg)
		},
	}
	cmd.Flags().String("watch", "", "Instead of a one-shot scan, rescan on this cron expression until interrupted")
	return cmd
}

func runScan(cmd *cobra.Command, args []string, reg *registry.Registry) error {
	watchExpr, _ := cmd.Flags().GetString("watch")
	if watchExpr != "" {
		s := scansched.New(reg, args)
		if err := s.Start(watchExpr); err != nil {
			return exitError(exitInputParse, "%v", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "watching %v on schedule %q (ctrl-c to stop)\n", args, watchExpr)
		<-cmd.Context().Done()
		s.Stop()
		return nil
	}

	found, err := registry.Scan(args)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	reg.UpdateFromScanner(found)
	if err := reg.Save(); err != nil {
		return exitError(exitRuntime, "saving registry: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "found %d node type(s)\n", len(found))
	return nil
}
