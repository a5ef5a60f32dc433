package command

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string // .env file read before the environment

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventnet",
	Short: "eventnet - typed event dispatch over TCP and UDP",
	Long: `eventnet runs a TCP and UDP event server that frames every message as
[length][event id][payload] and dispatches payloads to typed handlers.

Use "eventnet serve" to run the server, "eventnet probe" to send a single frame
to a running server and "eventnet token" to mint an admin API token.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")
}
