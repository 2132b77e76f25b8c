package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"dashscribe/internal/index"

	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <output-dir>",
	Short: "Merge worker shard indexes into INDEX.csv",
	Long: `Merge every INDEX.shard-*.csv under an output directory into the global
INDEX.csv. Duplicate (video_rel, seg_idx) keys keep the newest record by
created_utc. Shards are removed only after the merged index is written, so
the merge can be re-run safely at any time, including between batches.`,
	Args: cobra.ExactArgs(1),
	RunE: runConsolidate,
}

func init() {
	rootCmd.AddCommand(consolidateCmd)
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	rows, err := index.Consolidate(dir)
	if err != nil {
		return err
	}

	if !quiet {
		slog.Info("done", "index_rows", rows)
	}
	return nil
}
