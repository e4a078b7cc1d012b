package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.1.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		checkServer, _ := cmd.Flags().GetBool("server")

		if jsonOutput {
			out := map[string]string{"version": Version, "build": Build}
			if checkServer {
				out["server"] = serverVersion()
			}
			printJSON(out)
			return
		}
		fmt.Printf("trellis version %s (%s)\n", Version, Build)
		if checkServer {
			fmt.Printf("server version %s\n", serverVersion())
		}
	},
}

// serverVersion asks the running server; "not running" when no
// healthy server answers on the socket.
func serverVersion() string {
	root, err := resolveRoot()
	if err != nil {
		return "unknown"
	}
	client, err := rpc.TryConnect(resolveSocket(root))
	if err != nil || client == nil {
		return "not running"
	}
	defer client.Close()
	health, err := client.Health()
	if err != nil {
		return "unknown"
	}
	return health.Version
}

func init() {
	versionCmd.Flags().Bool("server", false, "Also report the running server's version")
	rootCmd.AddCommand(versionCmd)
}
