package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tickclient",
	Short: "Real-time tick client for the game simulation server",
	Long: `tickclient keeps a websocket connection to the game server, follows the
unit position from tick updates and accepts console commands (type "help").`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
