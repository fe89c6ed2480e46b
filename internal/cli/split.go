package cli

import (
	"fmt"

	"github.com/rcliao/memstore/internal/chunker"
	"github.com/rcliao/memstore/internal/consolidate"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "split <id>",
		Short: "Split a memory into atoms",
		Long: "Write one memory per atom, link each to the source with a split_from relation and then " +
			"archive or delete the source, as a single changeset. Atoms come from --atom or, with --auto, " +
			"from the source's headings and paragraphs.",
		Args: cobra.ExactArgs(1),
		Run:  runSplit,
	}

	cmd.Flags().StringArray("atom", nil, "Atom content (repeatable)")
	cmd.Flags().Bool("auto", false, "Derive atoms from the source's sections")

	RootCmd.AddCommand(cmd)
}

func runSplit(cmd *cobra.Command, args []string) {
	contents, _ := cmd.Flags().GetStringArray("atom")
	auto, _ := cmd.Flags().GetBool("auto")

	a := mustOpenApp(cmd)
	if auto {
		src, err := a.store.GetMemory(args[0])
		if err != nil {
			exitErr("split", err)
		}
		contents = nil
		for _, c := range chunker.Chunk(src.Content, chunker.Options{
			TargetSize: cfg.Split.TargetSize,
			MaxSize:    cfg.Split.MaxSize,
		}) {
			contents = append(contents, c.Text)
		}
	}
	if len(contents) == 0 {
		exitErr("split", fmt.Errorf("no atoms: pass --atom or --auto"))
	}

	atoms := make([]consolidate.Atom, len(contents))
	for i, c := range contents {
		atoms[i] = consolidate.Atom{Content: c}
	}
	res, err := a.orch.Split(cmd.Context(), consolidate.SplitParams{SourceID: args[0], Atoms: atoms})
	if err != nil && res == nil {
		exitErr("split", err)
	}
	if err != nil {
		logger.Sugar().Warnf("split: %v", err)
	}
	printJSON(res)
}
