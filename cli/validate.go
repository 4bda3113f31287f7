package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/compiler"
	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/registry"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args, reg)
		},
	}
	cmd.Flags().String("format", "text", "Diagnostic output format: text | json")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string, reg *registry.Registry) error {
	filePath := args[0]

	wf, err := ir.Load(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return exitError(exitInputParse, "%v", err)
	}

	c := compiler.New(reg, nil)
	diags := c.Validate(wf)

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		if err := printDiagnosticsJSON(cmd.OutOrStdout(), diags); err != nil {
			return exitError(exitRuntime, "encoding diagnostics: %v", err)
		}
	} else {
		printDiagnosticsText(cmd.OutOrStdout(), diags)
	}

	if ir.HasErrors(diags) {
		return exitError(exitValidation, "validation failed with %d error(s)", len(ir.Errors(diags)))
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "valid")
	return nil
}
