package conflict

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Transport moves committed changes between replicas and exposes the
// conflicts a synchronization left behind. Paths returned by Conflicts are
// relative to Dir.
type Transport interface {
	Propose(ctx context.Context, label string, paths []string) error
	Conflicts(ctx context.Context) ([]string, error)
	DetectConflict(ctx context.Context, path string) (bool, error)
	Stages(ctx context.Context, path string) (local, remote []byte, err error)
	Accept(ctx context.Context, path string, data []byte) error
	Remove(ctx context.Context, path string) error
	Dir() string
}

// GitTransport drives the git command line in a working tree.
type GitTransport struct {
	dir string
	log *zap.Logger
}

// NewGitTransport opens the work tree containing dir.
func NewGitTransport(ctx context.Context, dir string, log *zap.Logger) (*GitTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	g := &GitTransport{dir: dir, log: log}
	out, err := g.git(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("open git work tree %s: %w", dir, err)
	}
	g.dir = strings.TrimSpace(string(out))
	return g, nil
}

// Dir is the top level of the work tree.
func (g *GitTransport) Dir() string { return g.dir }

func (g *GitTransport) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Propose stages every change under the directories of paths and commits
// them as one commit named label. Nothing staged means nothing to commit.
func (g *GitTransport) Propose(ctx context.Context, label string, paths []string) error {
	dirs := map[string]struct{}{}
	for _, p := range paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	args := []string{"add", "-A", "--"}
	for _, d := range sortedKeys(dirs) {
		args = append(args, d)
	}
	if _, err := g.git(ctx, args...); err != nil {
		return err
	}
	if _, err := g.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		g.log.Debug("nothing to propose", zap.String("label", label))
		return nil
	}
	if _, err := g.git(ctx, "commit", "-q", "-m", label); err != nil {
		return err
	}
	g.log.Info("proposed changes", zap.String("label", label), zap.Int("paths", len(paths)))
	return nil
}

// Conflicts lists unmerged paths.
func (g *GitTransport) Conflicts(ctx context.Context) ([]string, error) {
	out, err := g.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// DetectConflict reports whether path is unmerged.
func (g *GitTransport) DetectConflict(ctx context.Context, path string) (bool, error) {
	stages, err := g.stages(ctx, path)
	return len(stages) > 0, err
}

// stages maps stage number (1 base, 2 ours, 3 theirs) to blob id.
func (g *GitTransport) stages(ctx context.Context, path string) (map[string]string, error) {
	out, err := g.git(ctx, "ls-files", "-u", "--", path)
	if err != nil {
		return nil, err
	}
	stages := map[string]string{}
	for _, line := range strings.Split(string(out), "\n") {
		meta, _, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		f := strings.Fields(meta)
		if len(f) == 3 {
			stages[f[2]] = f[1]
		}
	}
	return stages, nil
}

// Stages returns our and their version of an unmerged path. A side that
// deleted the path is nil.
func (g *GitTransport) Stages(ctx context.Context, path string) ([]byte, []byte, error) {
	stages, err := g.stages(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if len(stages) == 0 {
		return nil, nil, fmt.Errorf("%s is not unmerged", path)
	}
	blob := func(stage string) ([]byte, error) {
		sha, ok := stages[stage]
		if !ok {
			return nil, nil
		}
		return g.git(ctx, "cat-file", "blob", sha)
	}
	local, err := blob("2")
	if err != nil {
		return nil, nil, err
	}
	remote, err := blob("3")
	if err != nil {
		return nil, nil, err
	}
	return local, remote, nil
}

// Accept writes the resolved content and marks path resolved.
func (g *GitTransport) Accept(ctx context.Context, path string, data []byte) error {
	full := filepath.Join(g.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return err
	}
	_, err := g.git(ctx, "add", "--", path)
	return err
}

// Remove resolves path as deleted.
func (g *GitTransport) Remove(ctx context.Context, path string) error {
	_, err := g.git(ctx, "rm", "-q", "-f", "--ignore-unmatch", "--", path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(g.dir, path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// InstallMergeDriver registers binary as the merge driver for store
// records in this work tree and keeps pending markers and temp files out
// of version control. storeDir is the store root relative to the work tree.
func (g *GitTransport) InstallMergeDriver(ctx context.Context, binary, storeDir string) error {
	if _, err := g.git(ctx, "config", "merge.memstore.name", "memstore record merge"); err != nil {
		return err
	}
	if _, err := g.git(ctx, "config", "merge.memstore.driver", binary+" merge-driver %O %A %B %P"); err != nil {
		return err
	}
	prefix := filepath.ToSlash(storeDir)
	if prefix == "." {
		prefix = ""
	} else if prefix != "" {
		prefix += "/"
	}
	attrs := []string{
		prefix + "memories/*.md merge=memstore",
		prefix + "relations/*.yaml merge=memstore",
		prefix + "meta.yaml merge=memstore",
	}
	if err := appendLines(filepath.Join(g.dir, ".gitattributes"), attrs); err != nil {
		return err
	}
	return appendLines(filepath.Join(g.dir, ".gitignore"), []string{prefix + ".pending/", prefix + ".index.db*", "*.tmp"})
}

// appendLines adds the lines missing from file.
func appendLines(file string, lines []string) error {
	existing, err := os.ReadFile(file)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	have := map[string]bool{}
	for _, l := range strings.Split(string(existing), "\n") {
		have[strings.TrimSpace(l)] = true
	}
	var add strings.Builder
	for _, l := range lines {
		if !have[l] {
			add.WriteString(l + "\n")
		}
	}
	if add.Len() == 0 {
		return nil
	}
	text := add.String()
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		text = "\n" + text
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
