package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/llmadapter"
	"github.com/pflow-dev/pflow/planner"
	"github.com/pflow-dev/pflow/registry"
	"github.com/pflow-dev/pflow/worklib"
)

// NewPlanCmd creates the "plan" subcommand: runs the natural-language
// planner end to end and prints its routing decision plus, when the
// workflow is runnable, the workflow IR and extracted parameters.
func NewPlanCmd(client llmadapter.Client, lib *worklib.Library, reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Discover, generate, or reuse a workflow for a natural-language request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args, client, lib, reg)
		},
	}
	cmd.Flags().Bool("stdin", false, "Read additional context from stdin")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string, client llmadapter.Client, lib *worklib.Library, reg *registry.Registry) error {
	userInput := args[0]

	var stdin string
	if readStdin, _ := cmd.Flags().GetBool("stdin"); readStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return exitError(exitInputParse, "reading stdin: %v", err)
		}
		stdin = string(data)
	}

	p := planner.New(client, lib, reg)
	result, err := p.Plan(cmd.Context(), userInput, stdin)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	switch result.Action {
	case planner.ActionFailed:
		fmt.Fprintln(cmd.ErrOrStderr(), "planning failed:")
		printLines(cmd.ErrOrStderr(), result.ValidationErrors)
		return exitError(exitValidation, "planner could not produce a valid workflow after %d attempt(s)", result.GenerationAttempts)
	case planner.ActionParamsIncomplete:
		fmt.Fprintln(cmd.ErrOrStderr(), "missing required parameters:")
		printLines(cmd.ErrOrStderr(), result.MissingParams)
		return exitError(exitMissingInput, "workflow requires %d more parameter(s)", len(result.MissingParams))
	}

	data, err := json.MarshalIndent(map[string]any{
		"action":           result.Action,
		"workflow":         result.Workflow,
		"extracted_params": result.ExtractedParams,
		"metadata":         result.Metadata,
	}, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "encoding plan result: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, "  -", l)
	}
}
