package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pflow-dev/pflow/registry"
)

// NewRegistryCmd creates the "registry" subcommand group.
func NewRegistryCmd(reg *registry.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the node-type registry",
	}
	cmd.AddCommand(newRegistryListCmd(reg))
	return cmd
}

func newRegistryListCmd(reg *registry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered node type",
		RunE: func(cmd *cobra.Command, args []string) error {
			all := reg.All()
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)

			out := make([]map[string]any, 0, len(names))
			for _, name := range names {
				entry := all[name]
				out = append(out, map[string]any{
					"type":        name,
					"kind":        entry.Kind,
					"description": entry.Interface.Description,
				})
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return exitError(exitRuntime, "encoding registry: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
