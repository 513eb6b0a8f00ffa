package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"investigator/internal/format"
)

// outputFlag registers --format on cmd. "json" is handled by callers; the
// other values map to a table mode.
func outputFlag(cmd *cobra.Command, def string) *string {
	v := new(string)
	cmd.Flags().StringVar(v, "format", def, "Output format: table, markdown or json")
	return v
}

func tableMode(s string) (format.Mode, error) {
	m, err := format.ParseMode(s)
	if err != nil {
		return 0, fmt.Errorf("--format: %w", err)
	}
	return m, nil
}
