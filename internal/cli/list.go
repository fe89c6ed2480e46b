package cli

import (
	"fmt"

	"github.com/rcliao/memstore/internal/model"
	"github.com/rcliao/memstore/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Run:   runList,
	}

	cmd.Flags().String("status", "", "Filter by status")
	cmd.Flags().StringP("tag", "t", "", "Filter by exact tag")
	cmd.Flags().String("tags-match", "", "Filter by tag glob, e.g. 'proj-*'")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	tag, _ := cmd.Flags().GetString("tag")
	pattern, _ := cmd.Flags().GetString("tags-match")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := mustOpenApp(cmd)
	memories, err := a.store.Find(store.FindParams{
		Status:     model.Status(status),
		Tag:        tag,
		TagPattern: pattern,
		Limit:      limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, m := range memories {
			fmt.Println(m.ID)
		}
		return
	}
	if memories == nil {
		memories = []*model.Memory{}
	}
	printJSON(memories)
}
