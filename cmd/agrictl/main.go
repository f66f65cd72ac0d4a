// Command agrictl runs ingestion, exports and model calls from the shell.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	noColor bool
	envFile string
)

var rootCmd = &cobra.Command{
	Use:           "agrictl",
	Short:         "Operate the AgriPrice backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if envFile != "" {
			_ = godotenv.Load(envFile)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load")

	rootCmd.AddCommand(ingestCmd, modelCmd, exportCmd, arbitrageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
