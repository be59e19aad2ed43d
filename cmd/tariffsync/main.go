package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tariffsync",
	Short: "Classify Podio item attachments and write the tariff fields back",
	Long: `tariffsync receives Podio item notifications, queues one job per change,
classifies the item's images and PDFs with a schema-constrained model and
writes the result into the item's text fields.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(hookValidateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
