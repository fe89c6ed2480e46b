package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete memories whose decay score fell below a threshold",
		Run:   runPrune,
	}

	cmd.Flags().Float64("threshold", -1, "Score threshold (default from config)")
	cmd.Flags().Bool("dry-run", false, "List what would be pruned without deleting")

	RootCmd.AddCommand(cmd)
}

type pruneCandidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func runPrune(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if threshold < 0 {
		threshold = cfg.Decay.PruneThreshold
	}

	a := mustOpenApp(cmd)
	t := now()
	if dryRun {
		out := []pruneCandidate{}
		for m := range a.store.Memories() {
			if s := a.engine.Score(m, t); s < threshold {
				out = append(out, pruneCandidate{ID: m.ID, Score: s})
			}
		}
		printJSON(out)
		return
	}

	res, err := a.engine.Prune(cmd.Context(), threshold, t)
	if err != nil {
		exitErr("prune", err)
	}
	printJSON(res)
}
