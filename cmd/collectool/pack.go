package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/l1jgo/worldcore/internal/data"
	"github.com/l1jgo/worldcore/internal/resource"
)

func newPackCmd() *cobra.Command {
	var (
		version uint8
		root    string
	)
	cmd := &cobra.Command{
		Use:   "pack MANIFEST OUTPUT",
		Short: "Convert a YAML manifest into a binary collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := data.LoadCollectionManifest(args[0], root)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := desc.Save(&buf, version); err != nil {
				return fmt.Errorf("encode %s: %w", args[1], err)
			}
			if err := os.WriteFile(args[1], buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d entries into %s (v%d, %d bytes)\n",
				len(desc.Entries), args[1], version, buf.Len())
			return nil
		},
	}
	cmd.Flags().Uint8Var(&version, "version", resource.CollectionVersionCurrent, "collection format version (1-3)")
	cmd.Flags().StringVar(&root, "root", "", "resource root used to fill in missing sizes")
	return cmd
}
