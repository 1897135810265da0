package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "asrctl",
	Short: "Run recognition sessions and inspect wire frames",
	Long: `asrctl streams audio files through the configured speech recognizer and
decodes captured protocol frames. Credentials come from the same environment
variables (or .env file) as the server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(frameCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
