package main

import (
	"fmt"
	"os"

	"github.com/corvid-labs/corvid/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corvidd",
		Short: "Corvid retrieval-augmented chat server",
		Long:  "corvidd serves the Corvid HTTP API: chat, knowledge, search, personality, and feedback.",
	}

	rootCmd.AddCommand(cli.ServeCmd())

	cli.AddHelpJSONFlag(rootCmd)
	cli.CheckHelpJSON(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
