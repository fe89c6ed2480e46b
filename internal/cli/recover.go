package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Settle changesets a crash interrupted",
		Long:  "Every command recovers on open; this reports what was completed or rolled back and any unreadable markers.",
		Run:   runRecover,
	}

	RootCmd.AddCommand(cmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	invalid := make([]string, 0, len(a.recovery.Invalid))
	for _, err := range a.recovery.Invalid {
		invalid = append(invalid, err.Error())
	}
	printJSON(map[string]any{
		"completed":   a.recovery.Completed,
		"rolled_back": a.recovery.RolledBack,
		"invalid":     invalid,
	})
}
