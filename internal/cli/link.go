package cli

import (
	"fmt"

	"github.com/rcliao/memstore/internal/lifecycle"
	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link <source> <target>",
		Short: "Create or remove relations between memories",
		Long:  "Link two memories with a semantic relation, or remove a relation by id with --rm.",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runLink,
	}

	cmd.Flags().StringP("rel", "r", "related", "Relation: related, causes, supports, contradicts")
	cmd.Flags().Float64("strength", 1, "Relation strength")
	cmd.Flags().Bool("rm", false, "Remove the relation with the given id")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")
	strength, _ := cmd.Flags().GetFloat64("strength")
	rm, _ := cmd.Flags().GetBool("rm")

	a := mustOpenApp(cmd)
	if rm {
		if err := a.engine.Unlink(cmd.Context(), args[0]); err != nil {
			exitErr("unlink", err)
		}
		printJSON(map[string]any{"ok": true, "removed": args[0]})
		return
	}
	if len(args) != 2 {
		exitErr("link", fmt.Errorf("source and target ids are required"))
	}

	r, err := a.engine.Link(cmd.Context(), lifecycle.LinkParams{
		Source:   args[0],
		Target:   args[1],
		Type:     model.RelationType(rel),
		Strength: strength,
	})
	if err != nil {
		exitErr("link", err)
	}
	printJSON(r)
}
