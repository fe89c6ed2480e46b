package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the store as JSON",
		Long:  "Export every memory and relation plus the store metadata as one JSON document.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Write to file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	a := mustOpenApp(cmd)
	b, err := json.MarshalIndent(a.store.Export(), "", "  ")
	if err != nil {
		exitErr("export", err)
	}
	if out == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(out, append(b, '\n'), 0o644); err != nil {
		exitErr("export", err)
	}
	printJSON(map[string]any{"ok": true, "path": out})
}
