package cli

import (
	"strings"

	"github.com/rcliao/memstore/internal/index"
	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Search and score memories by relevance and decay, then greedily pack them into a token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().StringP("tag", "t", "", "Filter by tag")
	cmd.Flags().IntP("budget", "b", 4000, "Max tokens in output")
	cmd.Flags().Bool("touch", false, "Record an access on every memory returned")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	tag, _ := cmd.Flags().GetString("tag")
	budget, _ := cmd.Flags().GetInt("budget")
	touch, _ := cmd.Flags().GetBool("touch")
	query := strings.Join(args, " ")

	a := mustOpenApp(cmd)
	x := mustOpenIndex(cmd, a)
	defer x.Close()

	t := now()
	result, err := x.Context(cmd.Context(), index.ContextParams{
		Query:  query,
		Tag:    tag,
		Budget: budget,
	}, func(m *model.Memory) float64 { return a.engine.Score(m, t) })
	if err != nil {
		exitErr("context", err)
	}

	if touch {
		for _, m := range result.Memories {
			if _, err := a.engine.Touch(cmd.Context(), m.ID, t); err != nil {
				exitErr("touch", err)
			}
		}
	}
	printJSON(result)
}
