package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:   "dashscribe",
	Short: "Batch-transcribe archived dashcam footage into speaker-labeled transcripts",
	Long: `Dashscribe converts folders of dashcam/video footage into speaker-labeled
transcripts (TXT/JSON/SRT/VTT) plus a searchable master index. Processing is
idempotent and resumable: re-running a batch skips finished videos, and an
interrupted run never leaves half-written outputs behind.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		opts := &slog.HandlerOptions{Level: logLevel()}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	},
}

// logLevel maps the verbosity flags to a log level; quiet wins when both
// flags are set.
func logLevel() slog.Level {
	switch {
	case quiet:
		return slog.LevelError
	case verbose:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
}
