package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trellisplan/trellis/internal/config"
	"github.com/trellisplan/trellis/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the planning server on a Unix socket",
	Long: `Starts the server for the project root and blocks until SIGINT or
SIGTERM. One server per root; a second serve on the same socket fails
at bind time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := resolveRoot()
		if err != nil {
			return err
		}
		socket := resolveSocket(root)
		log := newServeLogger()

		rpc.ServerVersion = Version
		server, err := rpc.NewServer(socket, root, rpc.Options{
			MaxConns:       config.GetInt("max-connections"),
			RequestTimeout: config.GetDuration("request-timeout"),
			CacheSize:      config.GetInt("cache.size"),
		})
		if err != nil {
			return fmt.Errorf("initializing server: %w", err)
		}

		serverErr := make(chan error, 1)
		go func() { serverErr <- server.Start() }()

		select {
		case err := <-serverErr:
			return fmt.Errorf("server failed to start: %w", err)
		case <-server.Ready():
			log.Info("server ready", "socket", socket, "root", root, "version", Version)
		case <-time.After(5 * time.Second):
			log.Warn("server did not signal ready after 5 seconds")
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig.String())
			stopped := make(chan struct{})
			go func() {
				server.Stop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(config.GetDuration("shutdown-grace")):
				log.Warn("shutdown grace period elapsed, exiting")
			}
			return nil
		case err := <-serverErr:
			if err != nil {
				log.Error("server stopped", "error", err)
			}
			return err
		}
	},
}

// newServeLogger builds the server's structured logger. With log.file
// set, output goes to a size-rotated file; otherwise stderr.
func newServeLogger() *slog.Logger {
	var w io.Writer = os.Stderr
	if file := config.GetString("log.file"); file != "" {
		w = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    config.GetInt("log.max-size-mb"),
			MaxBackups: config.GetInt("log.max-backups"),
			MaxAge:     config.GetInt("log.max-age-days"),
			Compress:   true,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
