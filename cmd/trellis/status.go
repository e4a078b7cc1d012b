package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/rpc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a server is running for this root",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		socket := resolveSocket(root)
		client, err := rpc.TryConnect(socket)
		if err != nil {
			return err
		}
		if client == nil {
			if jsonOutput {
				printJSON(map[string]any{"running": false, "socket": socket})
			} else {
				fmt.Printf("no server running (socket %s)\n", socket)
			}
			return nil
		}
		defer client.Close()

		health, err := client.Health()
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"running": true, "socket": socket, "health": health})
			return nil
		}
		fmt.Printf("server %s on %s\n", health.Status, socket)
		fmt.Printf("  version: %s  uptime: %.0fs\n", health.Version, health.Uptime)
		fmt.Printf("  connections: %d/%d  cache: %d hits / %d misses\n",
			health.ActiveConns, health.MaxConns, health.CacheHits, health.CacheMisses)
		return nil
	},
}

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the running server gracefully",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Shutdown(); err != nil {
			return err
		}
		fmt.Println("server shutting down")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(shutdownCmd)
}
