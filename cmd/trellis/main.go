package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trellisplan/trellis/internal/config"
	"github.com/trellisplan/trellis/internal/rpc"
)

var (
	jsonOutput  bool
	projectRoot string
	socketFlag  string
	actorFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "File-backed planning for projects, epics, features and tasks",
	Long: `Trellis keeps a planning hierarchy as Markdown files with YAML
front-matter and serves operations over a Unix socket. The files are
the source of truth; the server holds no state between requests.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Server socket path (default: derived from the root)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Acting identity recorded in audit entries")
}

// resolveRoot picks the project root from the flag or the working
// directory, absolutized so socket hashing is stable.
func resolveRoot() (string, error) {
	root := projectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cannot determine working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve root %s: %w", root, err)
	}
	return abs, nil
}

// resolveSocket picks the socket path: flag, then config, then the
// per-root derived path.
func resolveSocket(root string) string {
	if socketFlag != "" {
		return socketFlag
	}
	if s := config.GetString("socket"); s != "" {
		return s
	}
	return rpc.ShortSocketPath(root)
}

// connect dials the server for a client command.
func connect() (*rpc.Client, string, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, "", err
	}
	socket := resolveSocket(root)
	client, err := rpc.Connect(socket)
	if err != nil {
		return nil, "", fmt.Errorf("%w\nstart one with: trellis serve", err)
	}
	client.SetActor(config.GetActor(actorFlag))
	client.SetTimeout(config.GetDuration("request-timeout"))
	return client, root, nil
}

func main() {
	rpc.ClientVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
