package cli

import (
	"fmt"
	"strings"

	"github.com/rcliao/memstore/internal/embedding"
	"github.com/rcliao/memstore/internal/index"
	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by keyword",
		Long:  "Full-text search over memory chunks. Results are reordered by embedding similarity when an embedder is configured.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().String("status", "", "Filter by status")
	cmd.Flags().StringP("tag", "t", "", "Filter by tag")
	cmd.Flags().IntP("limit", "l", 20, "Max results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	tag, _ := cmd.Flags().GetString("tag")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	a := mustOpenApp(cmd)
	x := mustOpenIndex(cmd, a)
	defer x.Close()

	results, err := x.Search(cmd.Context(), index.SearchParams{
		Query:  query,
		Status: model.Status(status),
		Tag:    tag,
		Limit:  limit,
		Vector: queryVector(cmd, a, query),
	})
	if err != nil {
		exitErr("search", err)
	}
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}

// mustOpenIndex opens the derived index and rebuilds it from the loaded
// store, so results never lag behind the record files.
func mustOpenIndex(cmd *cobra.Command, a *app) *index.Index {
	x, err := index.Open(cfg.IndexPath())
	if err != nil {
		exitErr("open index", err)
	}
	res, err := x.Rebuild(cmd.Context(), a.store.Snapshot())
	if err != nil {
		x.Close()
		exitErr("rebuild index", err)
	}
	logger.Debug("index rebuilt",
		zap.Int("memories", res.Memories),
		zap.Int("chunks", res.Chunks),
		zap.Duration("took", res.Took))
	return x
}

// queryVector embeds the query, or returns nil when no embedder is
// configured or it fails.
func queryVector(cmd *cobra.Command, a *app, query string) embedding.Vector {
	if a.embedder == nil {
		return nil
	}
	v, err := a.embedder.Embed(cmd.Context(), query)
	if err != nil {
		logger.Warn("query embedding failed", zap.Error(err))
		return nil
	}
	return v
}
