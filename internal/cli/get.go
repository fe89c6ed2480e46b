package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("touch", false, "Record the read as an access")
	cmd.Flags().Bool("relations", false, "Include relations touching the memory")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	touch, _ := cmd.Flags().GetBool("touch")
	withRels, _ := cmd.Flags().GetBool("relations")

	a := mustOpenApp(cmd)
	mem, err := a.store.GetMemory(args[0])
	if err != nil {
		exitErr("get", err)
	}
	if touch {
		if mem, err = a.engine.Touch(cmd.Context(), args[0], now()); err != nil {
			exitErr("touch", err)
		}
	}
	if !withRels {
		printJSON(mem)
		return
	}
	printJSON(map[string]any{
		"memory":    mem,
		"relations": a.store.RelationsFor(mem.ID),
		"score":     a.engine.Score(mem, now()),
	})
}
