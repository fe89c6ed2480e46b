package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rcliao/memstore/internal/conflict"
	"github.com/rcliao/memstore/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	mergeDriverCmd := &cobra.Command{
		Use:    "merge-driver <base> <ours> <theirs> <path>",
		Short:  "Git merge driver for store records",
		Long:   "Invoked by git with %O %A %B %P. Writes the merged record over <ours>; exits 1 when the records cannot be merged.",
		Args:   cobra.ExactArgs(4),
		Hidden: true,
		Run:    runMergeDriver,
	}
	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve unmerged store records left by a git merge",
		Long: "Merge every conflicted record under the store with the record merge rules, then settle " +
			"modify/delete conflicts by provenance. Anything left is reported and the command exits 1.",
		Run: runResolve,
	}

	RootCmd.AddCommand(mergeDriverCmd, resolveCmd)
}

func runMergeDriver(cmd *cobra.Command, args []string) {
	ours, theirs, path := args[1], args[2], args[3]
	local, err := os.ReadFile(ours)
	if err != nil {
		exitErr("merge-driver", err)
	}
	remote, err := os.ReadFile(theirs)
	if err != nil {
		exitErr("merge-driver", err)
	}

	merged, err := conflict.NewResolver(logger.Named("resolve")).ResolveFile(path, local, remote)
	if err != nil {
		exitErr("merge-driver", err)
	}
	if err := os.WriteFile(ours, merged, 0o644); err != nil {
		exitErr("merge-driver", err)
	}
}

type resolveReport struct {
	Merged     []string `json:"merged"`
	Deleted    []string `json:"deleted"`
	Unresolved []string `json:"unresolved"`
}

type deletedConflict struct {
	path     string // work tree relative
	storeRel string
	present  []byte
}

func runResolve(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	g, err := conflict.NewGitTransport(ctx, cfg.Dir, logger.Named("git"))
	if err != nil {
		exitErr("resolve", err)
	}
	storeDir, err := storeRelDir(g.Dir())
	if err != nil {
		exitErr("resolve", err)
	}
	paths, err := g.Conflicts(ctx)
	if err != nil {
		exitErr("resolve", err)
	}

	r := conflict.NewResolver(logger.Named("resolve"))
	report := resolveReport{Merged: []string{}, Deleted: []string{}, Unresolved: []string{}}
	var deletions []deletedConflict

	for _, p := range paths {
		storeRel, ok := underDir(storeDir, p)
		if !ok {
			continue
		}
		local, remote, err := g.Stages(ctx, p)
		if err != nil {
			exitErr("resolve", err)
		}
		switch {
		case local != nil && remote != nil:
			merged, err := r.ResolveFile(storeRel, local, remote)
			if err != nil {
				logger.Warn("unresolved", zap.String("path", p), zap.Error(err))
				report.Unresolved = append(report.Unresolved, p)
				continue
			}
			if err := g.Accept(ctx, p, merged); err != nil {
				exitErr("resolve", err)
			}
			report.Merged = append(report.Merged, p)
		case local == nil && remote == nil:
			if err := g.Remove(ctx, p); err != nil {
				exitErr("resolve", err)
			}
			report.Deleted = append(report.Deleted, p)
		default:
			present := local
			if present == nil {
				present = remote
			}
			deletions = append(deletions, deletedConflict{path: p, storeRel: storeRel, present: present})
		}
	}

	if len(deletions) > 0 {
		settleDeletions(cmd, g, r, deletions, &report)
	}

	printJSON(report)
	if len(report.Unresolved) > 0 {
		fmt.Fprintf(os.Stderr, "error: %d record(s) need manual resolution\n", len(report.Unresolved))
		os.Exit(1)
	}
}

// settleDeletions decides modify/delete conflicts against the merged store.
// Memories go first so relation decisions see which endpoints survived.
func settleDeletions(cmd *cobra.Command, g *conflict.GitTransport, r *conflict.Resolver, deletions []deletedConflict, report *resolveReport) {
	ctx := cmd.Context()
	a := mustOpenApp(cmd)
	relations := a.store.Snapshot().Relations

	sort.SliceStable(deletions, func(i, j int) bool {
		ki, _ := store.Classify(deletions[i].storeRel)
		kj, _ := store.Classify(deletions[j].storeRel)
		return ki < kj
	})

	removed := map[string]bool{}
	exists := func(id string) bool {
		if removed[id] {
			return false
		}
		_, err := a.store.GetMemory(id)
		return err == nil
	}

	for _, d := range deletions {
		err := r.ResolveDeletedFile(d.storeRel, d.present, relations, exists)
		if errors.Is(err, conflict.ErrConflictUnresolved) {
			logger.Warn("unresolved", zap.String("path", d.path), zap.Error(err))
			report.Unresolved = append(report.Unresolved, d.path)
			continue
		}
		if err != nil {
			exitErr("resolve", err)
		}
		if err := g.Remove(ctx, d.path); err != nil {
			exitErr("resolve", err)
		}
		if kind, id := store.Classify(d.storeRel); kind == store.KindMemory {
			removed[id] = true
		}
		report.Deleted = append(report.Deleted, d.path)
	}
}

// underDir returns p relative to dir when p lies inside it.
func underDir(dir, p string) (string, bool) {
	dir = filepath.ToSlash(dir)
	p = filepath.ToSlash(p)
	if dir == "." || dir == "" {
		return p, true
	}
	rest, ok := strings.CutPrefix(p, dir+"/")
	return rest, ok
}
