package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}
	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "List tags with memory counts",
		Run:   runTags,
	}

	RootCmd.AddCommand(statsCmd, tagsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	st := a.store.Stats()
	printJSON(map[string]any{
		"store":    st,
		"replica":  a.replica,
		"loaded":   a.load,
		"skipped":  len(a.load.Skipped),
		"recovery": a.recovery,
	})
}

func runTags(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	printJSON(a.store.Tags())
}
