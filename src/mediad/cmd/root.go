package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/twivo/twivo-media/src/pkg/logging"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mediad",
	Short: "Accepts image uploads from the Twivo backend and stores them as normalized WebP",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelFromEnv()
		if cmd.Flags().Changed("log-level") {
			name, _ := cmd.Flags().GetString("log-level")
			level = logging.ParseLevel(name)
		}
		slog.SetDefault(logging.CreateLogger(level))
	},
	SilenceUsage: true,
}

func Execute() {
	slog.SetDefault(logging.CreateLogger(logging.LevelFromEnv()))
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
}
