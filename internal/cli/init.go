package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcliao/memstore/internal/config"
	"github.com/rcliao/memstore/internal/conflict"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the store layout and default config",
		Long: "Create the store directories, metadata record and, if missing, the config file. " +
			"With --git, register the record merge driver in the enclosing git work tree.",
		Run: runInit,
	}

	cmd.Flags().Bool("git", false, "Install the merge driver and ignore rules in the enclosing git work tree")
	cmd.Flags().String("driver", "", "Binary git invokes as merge driver (default: this executable)")

	RootCmd.AddCommand(cmd)
}

func runInit(cmd *cobra.Command, args []string) {
	withGit, _ := cmd.Flags().GetBool("git")
	driver, _ := cmd.Flags().GetString("driver")
	ctx := cmd.Context()

	path := configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	wroteConfig := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := cfg.Save(path); err != nil {
			exitErr("write config", err)
		}
		wroteConfig = true
	}

	a := mustOpenApp(cmd)
	out := map[string]any{
		"ok":      true,
		"dir":     a.store.Root(),
		"replica": a.replica,
	}
	if wroteConfig {
		out["config"] = path
	}

	if withGit {
		g, err := conflict.NewGitTransport(ctx, cfg.Dir, logger.Named("git"))
		if err != nil {
			exitErr("init git", err)
		}
		storeDir, err := storeRelDir(g.Dir())
		if err != nil {
			exitErr("init git", err)
		}
		if driver == "" {
			if driver, err = os.Executable(); err != nil {
				driver = "memstore"
			}
		}
		if err := g.InstallMergeDriver(ctx, driver, storeDir); err != nil {
			exitErr("install merge driver", err)
		}
		out["git"] = g.Dir()
	}
	printJSON(out)
}

// storeRelDir is the store directory relative to the work tree top.
func storeRelDir(top string) (string, error) {
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(top, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("store %s is outside work tree %s", abs, top)
	}
	return rel, nil
}
