package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the derived search index",
	}
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the search index from the record files",
		Run:   runIndexRebuild,
	}
	indexCmd.AddCommand(rebuildCmd)

	RootCmd.AddCommand(indexCmd)
}

func runIndexRebuild(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	x := mustOpenIndex(cmd, a)
	defer x.Close()
	printJSON(map[string]any{"ok": true, "path": cfg.IndexPath()})
}
