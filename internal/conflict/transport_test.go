package conflict

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitRepo(t *testing.T) (string, func(args ...string) string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		if err != nil && args[0] != "merge" {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
		return string(out)
	}
	run("init", "-q", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@example.com")
	run("config", "commit.gpgsign", "false")
	return dir, run
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestGitTransportPropose(t *testing.T) {
	dir, run := gitRepo(t)
	ctx := context.Background()
	g, err := NewGitTransport(ctx, dir, nil)
	require.NoError(t, err)

	mem := filepath.Join(dir, "memories", "m1.md")
	writeFile(t, mem, "one")
	require.NoError(t, g.Propose(ctx, "create m1", []string{mem}))
	assert.Contains(t, run("log", "--oneline"), "create m1")

	// Deleting a tracked file is proposed too.
	require.NoError(t, os.Remove(mem))
	writeFile(t, filepath.Join(dir, "memories", "m2.md"), "two")
	require.NoError(t, g.Propose(ctx, "replace m1", []string{mem}))
	files := run("ls-files")
	assert.NotContains(t, files, "m1.md")
	assert.Contains(t, files, "m2.md")

	// Nothing staged is not an error.
	require.NoError(t, g.Propose(ctx, "noop", []string{mem}))
	assert.NotContains(t, run("log", "--oneline"), "noop")
}

func TestGitTransportConflictStages(t *testing.T) {
	dir, run := gitRepo(t)
	ctx := context.Background()
	g, err := NewGitTransport(ctx, dir, nil)
	require.NoError(t, err)

	rel := filepath.Join("memories", "m1.md")
	path := filepath.Join(dir, rel)
	writeFile(t, path, "base\n")
	run("add", "-A")
	run("commit", "-q", "-m", "base")

	run("checkout", "-q", "-b", "other")
	writeFile(t, path, "theirs\n")
	run("commit", "-q", "-am", "theirs")

	run("checkout", "-q", "main")
	writeFile(t, path, "ours\n")
	run("commit", "-q", "-am", "ours")
	run("merge", "-q", "other")

	conflicts, err := g.Conflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.ToSlash(rel)}, conflicts)

	ok, err := g.DetectConflict(ctx, rel)
	require.NoError(t, err)
	assert.True(t, ok)

	local, remote, err := g.Stages(ctx, rel)
	require.NoError(t, err)
	assert.Equal(t, "ours\n", string(local))
	assert.Equal(t, "theirs\n", string(remote))

	require.NoError(t, g.Accept(ctx, rel, []byte("merged\n")))
	conflicts, err = g.Conflicts(ctx)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "merged\n", string(data))
}

func TestInstallMergeDriver(t *testing.T) {
	dir, run := gitRepo(t)
	ctx := context.Background()
	g, err := NewGitTransport(ctx, dir, nil)
	require.NoError(t, err)

	require.NoError(t, g.InstallMergeDriver(ctx, "memstore", "store"))
	require.NoError(t, g.InstallMergeDriver(ctx, "memstore", "store"))

	assert.Equal(t, "memstore merge-driver %O %A %B %P", strings.TrimSpace(run("config", "merge.memstore.driver")))
	attrs, err := os.ReadFile(filepath.Join(dir, ".gitattributes"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(attrs), "store/memories/*.md merge=memstore"))
	ignore, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(ignore), "store/.pending/")
}
