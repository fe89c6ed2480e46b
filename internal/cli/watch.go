package cli

import (
	"github.com/rcliao/memstore/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reload the store whenever record files change",
		Long:  "Watch the record directories, e.g. while another process pulls replica changes, and print a load report after each reload.",
		Run:   runWatch,
	}

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	a := mustOpenApp(cmd)

	w, err := a.store.Watch(ctx, cfg.GetDebounce(), func(rep *store.LoadReport, err error) {
		if err != nil {
			logger.Error("reload failed", zap.Error(err))
			return
		}
		for _, skipped := range rep.Skipped {
			logger.Warn("skipped record", zap.Error(skipped))
		}
		printJSON(rep)
	})
	if err != nil {
		exitErr("watch", err)
	}
	defer w.Close()

	logger.Info("watching", zap.String("dir", a.store.Root()))
	<-ctx.Done()
}
