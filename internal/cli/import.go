package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rcliao/memstore/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import an export into the store",
		Long:  "Import records from a JSON export (file or stdin). Records whose id already exists are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	source := "stdin"
	var data []byte
	var err error
	if len(args) == 1 {
		source = args[0]
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var e store.Export
	if err := json.Unmarshal(data, &e); err != nil {
		exitErr("parse json", err)
	}

	a := mustOpenApp(cmd)
	if err := a.policy.Allow(cmd.Context()); err != nil {
		exitErr("import", err)
	}
	res, err := a.store.Import(cmd.Context(), &e, source)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(res)
}
