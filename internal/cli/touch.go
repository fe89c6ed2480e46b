package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	touchCmd := &cobra.Command{
		Use:   "touch <id>",
		Short: "Record an access, reinforcing the memory",
		Args:  cobra.ExactArgs(1),
		Run:   runTouch,
	}
	archiveCmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runArchive,
	}

	RootCmd.AddCommand(touchCmd, archiveCmd)
}

func runTouch(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	mem, err := a.engine.Touch(cmd.Context(), args[0], now())
	if err != nil {
		exitErr("touch", err)
	}
	printJSON(mem)
}

func runArchive(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd)
	mem, err := a.engine.Archive(cmd.Context(), args[0])
	if err != nil {
		exitErr("archive", err)
	}
	printJSON(mem)
}
