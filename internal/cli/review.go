package cli

import (
	"sort"

	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "review [id]",
		Short: "Mark a memory reviewed, or list memories due for review",
		Long:  "With an id, records a review pass. Without, lists active memories by review priority, highest first.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runReview,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max memories to list")

	RootCmd.AddCommand(cmd)
}

type reviewItem struct {
	ID       string  `json:"id"`
	Priority float64 `json:"review_priority"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
}

func runReview(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	a := mustOpenApp(cmd)

	if len(args) == 1 {
		mem, err := a.engine.Review(cmd.Context(), args[0], now())
		if err != nil {
			exitErr("review", err)
		}
		printJSON(mem)
		return
	}

	t := now()
	items := []reviewItem{}
	for m := range a.store.Memories() {
		if m.Status != model.StatusActive {
			continue
		}
		items = append(items, reviewItem{ID: m.ID, Priority: m.ReviewPriority, Score: a.engine.Score(m, t), Content: m.Content})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].ID < items[j].ID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	printJSON(items)
}
