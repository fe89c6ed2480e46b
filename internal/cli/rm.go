package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory and the relations that reference it",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	n, err := a.engine.Delete(cmd.Context(), args[0])
	if err != nil {
		exitErr("rm", err)
	}
	printJSON(map[string]any{"ok": true, "deleted": args[0], "relations_removed": n})
}
