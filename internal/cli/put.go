package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rcliao/memstore/internal/lifecycle"
	"github.com/rcliao/memstore/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().StringP("source", "s", "", "Where the memory came from")
	cmd.Flags().String("context", "", "Free-form context")
	cmd.Flags().String("entities", "", "Comma-separated entities")
	cmd.Flags().String("summary", "", "Summary (long content only)")
	cmd.Flags().String("status", "active", "Status: active, archived, schema")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	tags, _ := cmd.Flags().GetString("tags")
	source, _ := cmd.Flags().GetString("source")
	ctxText, _ := cmd.Flags().GetString("context")
	entities, _ := cmd.Flags().GetString("entities")
	summary, _ := cmd.Flags().GetString("summary")
	status, _ := cmd.Flags().GetString("status")

	content, err := readContent(args)
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	if !model.ValidStatuses[model.Status(status)] {
		exitErr("put", fmt.Errorf("invalid status %q", status))
	}

	a := mustOpenApp(cmd)
	mem, err := a.engine.Create(cmd.Context(), lifecycle.CreateParams{
		Content:  strings.TrimSpace(content),
		Summary:  summary,
		Tags:     splitList(tags),
		Source:   source,
		Context:  ctxText,
		Entities: splitList(entities),
		Status:   model.Status(status),
	})
	if err != nil {
		exitErr("put", err)
	}
	printJSON(mem)
}

// readContent joins positional args, falling back to piped stdin.
func readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", nil
}
