// Package cli implements the memstore CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memstore/internal/config"
	"github.com/rcliao/memstore/internal/conflict"
	"github.com/rcliao/memstore/internal/consolidate"
	"github.com/rcliao/memstore/internal/embedding"
	"github.com/rcliao/memstore/internal/lifecycle"
	"github.com/rcliao/memstore/internal/logging"
	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
	"github.com/rcliao/memstore/internal/summarize"
)

var (
	dirFlag     string
	configFlag  string
	replicaFlag string
	verbose     bool

	cfg    *config.Config
	logger = zap.NewNop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memstore",
	Short: "File-per-record memory store for agents",
	Long: "A memory store that keeps every memory and relation in its own file, " +
		"decays and prunes what is no longer used, and merges cleanly across replicas synced with git.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logging.New(level, false)
		if err != nil {
			return err
		}
		logger = l

		path := configFlag
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if dirFlag != "" {
			cfg.Dir = dirFlag
		}
		if replicaFlag != "" {
			cfg.Replica = replicaFlag
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "Store directory (default: $MEMSTORE_DIR or ~/.memstore/store)")
	RootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: $MEMSTORE_CONFIG or ~/.memstore/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&replicaFlag, "replica", "", "Replica id (default: $MEMSTORE_REPLICA or ~/.memstore/replica-id)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging on stderr")
}

// app is everything a command needs, wired from the configuration.
type app struct {
	store    *store.Store
	engine   *lifecycle.Engine
	orch     *consolidate.Orchestrator
	policy   *conflict.Policy
	embedder embedding.Embedder
	replica  string
	load     *store.LoadReport
	recovery *consolidate.RecoverReport
}

// openApp opens and loads the store, then settles any changeset a crash
// interrupted.
func openApp(ctx context.Context) (*app, error) {
	opts := []store.Option{
		store.WithLogger(logger.Named("store")),
		store.WithMinSummaryTokens(cfg.Summary.MinTokens),
		store.WithEnrichTimeout(cfg.GetSummaryTimeout()),
	}
	if cfg.Summary.Tokenizer != "" && cfg.Summary.Tokenizer != "words" {
		tc, err := summarize.NewTiktokenCounter(cfg.Summary.Tokenizer)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: %w", err)
		}
		opts = append(opts, store.WithTokenCounter(tc))
	}
	if cfg.Summary.Provider == "ollama" {
		sum, err := summarize.NewOllama(cfg.Summary.Model)
		if err != nil {
			return nil, fmt.Errorf("summarizer: %w", err)
		}
		opts = append(opts, store.WithSummarizer(sum, cfg.Summary.Level))
	}
	emb, err := embedding.New(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.APIKey)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	if emb != nil {
		opts = append(opts, store.WithEmbedder(emb))
	}

	s, err := store.Open(cfg.Dir, opts...)
	if err != nil {
		return nil, err
	}
	load, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	replica, err := cfg.ReplicaID(config.DefaultReplicaPath())
	if err != nil {
		return nil, err
	}
	policy := conflict.NewPolicy(s, replica, cfg.Maintainer, logger.Named("policy"))

	engine := lifecycle.New(s, lifecycle.Config{
		BaseHalfLife:  cfg.GetHalfLife(),
		ReinforceStep: cfg.Decay.ReinforceStep,
		MaxStrength:   cfg.Decay.MaxStrength,
	}, lifecycle.WithGuard(policy), lifecycle.WithLogger(logger.Named("lifecycle")))

	orchOpts := []consolidate.Option{
		consolidate.WithGuard(policy),
		consolidate.WithSourcePolicy(model.SourcePolicy(cfg.Split.SourcePolicy)),
		consolidate.WithLogger(logger.Named("consolidate")),
	}
	if cfg.Git.AutoCommit {
		g, err := conflict.NewGitTransport(ctx, cfg.Dir, logger.Named("git"))
		if err != nil {
			logger.Warn("auto commit disabled", zap.Error(err))
		} else {
			orchOpts = append(orchOpts, consolidate.WithProposer(g))
		}
	}
	orch := consolidate.New(s, orchOpts...)

	recovery, err := orch.Recover(ctx)
	if err != nil {
		return nil, err
	}

	return &app{
		store:    s,
		engine:   engine,
		orch:     orch,
		policy:   policy,
		embedder: emb,
		replica:  replica,
		load:     load,
		recovery: recovery,
	}, nil
}

func mustOpenApp(cmd *cobra.Command) *app {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	return a
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func now() time.Time { return time.Now().UTC() }

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
