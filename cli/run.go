package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/compiler"
	"github.com/pflow-dev/pflow/executor"
	"github.com/pflow-dev/pflow/ir"
	"github.com/pflow-dev/pflow/node"
	"github.com/pflow-dev/pflow/registry"
	"github.com/pflow-dev/pflow/shared"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd(reg *registry.Registry, factory compiler.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Compile and execute a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, reg, factory)
		},
	}

	cmd.Flags().StringP("input", "i", "", "Input data as inline JSON string")
	cmd.Flags().String("output-key", "", "Override output resolution with a single store key")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("dry-run", false, "Compile and validate only, do not execute")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, reg *registry.Registry, factory compiler.Factory) error {
	filePath := args[0]

	wf, err := ir.Load(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return exitError(exitInputParse, "%v", err)
	}

	c := compiler.New(reg, factory)
	g, diags, err := c.Compile(wf)
	if err != nil {
		printDiagnosticsText(cmd.ErrOrStderr(), ir.Errors(diags))
		return exitError(exitValidation, "validation failed with %d error(s)", len(ir.Errors(diags)))
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Validation and compilation successful.")
		return nil
	}

	inputs, err := parseRunInputs(cmd)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithCancel(cmd.Context())
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(cmd.Context(), timeout)
	}
	defer cancel()

	outputKey, _ := cmd.Flags().GetString("output-key")
	result, err := executor.Run(ctx, g, shared.FromInputs(inputs), executor.Options{OutputKey: outputKey})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	return writeRunOutput(cmd, result)
}

func parseRunInputs(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("input")
	if raw == "" {
		return map[string]any{}, nil
	}
	var inputs map[string]any
	if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
		return nil, fmt.Errorf("parsing --input as JSON: %w", err)
	}
	return inputs, nil
}

func writeRunOutput(cmd *cobra.Command, result *executor.Result) error {
	data, err := json.MarshalIndent(result.Outputs, "", "  ")
	if err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// CoreFactory resolves the registry's built-in "noop"/"echo"/"fail"
// node types. Hosts that register user or MCP node types should wrap
// this with their own factory and fall through to it for the core set.
func CoreFactory(spec ir.NodeSpec, _ registry.Entry) (node.Node, error) {
	switch spec.Type {
	case "noop":
		return node.NoopNode{}, nil
	case "echo":
		return node.EchoNode{}, nil
	case "fail":
		return node.FailNode{}, nil
	default:
		return nil, fmt.Errorf("cli: no factory registered for node type %q", spec.Type)
	}
}
