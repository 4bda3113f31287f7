package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pflow-dev/pflow/ir"
)

// printDiagnosticsText writes one line per diagnostic in
// "severity code: path: message" form.
func printDiagnosticsText(w io.Writer, diags []ir.Diagnostic) {
	for _, d := range diags {
		fmt.Fprintln(w, d.String())
	}
}

func printDiagnosticsJSON(w io.Writer, diags []ir.Diagnostic) error {
	data, err := json.MarshalIndent(diags, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
