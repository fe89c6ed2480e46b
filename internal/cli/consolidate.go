package cli

import (
	"fmt"
	"strings"

	"github.com/rcliao/memstore/internal/consolidate"
	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate [content]",
		Short: "Merge several memories into one",
		Long: "Write one consolidated memory, link it to every source with a consolidated_from relation " +
			"and delete the sources, as a single changeset. Content can be piped via stdin.",
		Run: runConsolidate,
	}

	cmd.Flags().String("from", "", "Comma-separated source ids (required)")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags (default: union of source tags)")
	cmd.Flags().String("summary", "", "Summary of the consolidated memory")
	cmd.Flags().Float64("cohesion", 0, "Cluster cohesion recorded on provenance edges")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	tags, _ := cmd.Flags().GetString("tags")
	summary, _ := cmd.Flags().GetString("summary")
	cohesion, _ := cmd.Flags().GetFloat64("cohesion")

	sources := splitList(from)
	if len(sources) == 0 {
		exitErr("consolidate", fmt.Errorf("--from is required"))
	}
	content, err := readContent(args)
	if err != nil {
		exitErr("read stdin", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		exitErr("consolidate", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	a := mustOpenApp(cmd)
	tagList := splitList(tags)
	if tagList == nil {
		tagList = unionTags(a, sources)
	}

	res, err := a.orch.Consolidate(cmd.Context(), consolidate.ConsolidateParams{
		SourceIDs: sources,
		Record: &model.Memory{
			Content:  content,
			Summary:  summary,
			Metadata: model.Metadata{Tags: tagList, Source: "consolidate"},
		},
		Cohesion: cohesion,
	})
	if err != nil && res == nil {
		exitErr("consolidate", err)
	}
	if err != nil {
		// Committed locally; only the proposal to other replicas failed.
		logger.Sugar().Warnf("consolidate: %v", err)
	}
	printJSON(res)
}

func unionTags(a *app, ids []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range ids {
		m, err := a.store.GetMemory(id)
		if err != nil {
			continue
		}
		for _, t := range m.Metadata.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}
