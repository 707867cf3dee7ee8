// Command dcbd runs the DCB event store and processor runtime (spec
// C19). Subcommand layout follows the retrieved cobra CLI convention
// (root command + resource subcommands, e.g. `warren cluster init`):
// here `dcbd serve` starts the long-running process and `dcbd processor
// <verb>` talks to its admin API as a lightweight remote client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dcbrun/dcb/internal/adminapi"
	"github.com/dcbrun/dcb/internal/config"
	"github.com/dcbrun/dcb/internal/runtime"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dcbd",
	Short: "dcbd runs the dynamic consistency boundary event store and processor runtime",
}

var configPath string
var adminAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env DCB_* always applies)")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "http://127.0.0.1:8080", "admin API address for processor subcommands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processorCmd)

	processorCmd.AddCommand(processorStatusCmd)
	processorCmd.AddCommand(processorPauseCmd)
	processorCmd.AddCommand(processorResumeCmd)
	processorCmd.AddCommand(processorResetCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the event store, processor scheduler, and admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rt, err := runtime.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("initializing runtime: %w", err)
		}
		defer rt.Close()

		if cfg.Server.Mode == "release" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		engine.Use(gin.Recovery())
		svc := adminapi.NewService(rt.Store, rt.Progress, processorIDs(rt))
		svc.RegisterRoutes(engine)

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", addr).Msg("admin API listening")
			if err := engine.Run(addr); err != nil {
				errCh <- fmt.Errorf("admin API server: %w", err)
			}
		}()

		go func() {
			if err := rt.Run(ctx); err != nil {
				errCh <- fmt.Errorf("processor runtime: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info().Msg("signal received, shutting down")
		case err := <-errCh:
			log.Error().Err(err).Msg("runtime stopped with error")
		}
		cancel()
		return nil
	},
}

// processorIDs lists the subscription ids already registered with the
// scheduler, so the admin API can distinguish "known but idle" from
// "never existed" without an extra configuration surface.
func processorIDs(rt *runtime.Runtime) []string {
	ids := make([]string, 0, len(rt.Scheduler.Subscriptions))
	for _, sub := range rt.Scheduler.Subscriptions {
		ids = append(ids, sub.ID)
	}
	return ids
}

var processorCmd = &cobra.Command{
	Use:   "processor",
	Short: "inspect and control running processors via the admin API",
}

var processorStatusCmd = &cobra.Command{
	Use:   "status PROCESSOR_ID",
	Short: "show a processor's checkpoint, status, and error streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(adminGet(adminAddr, "/processors/"+args[0]))
	},
}

var processorPauseCmd = &cobra.Command{
	Use:   "pause PROCESSOR_ID",
	Short: "pause a processor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(adminPost(adminAddr, "/processors/"+args[0]+"/pause"))
	},
}

var processorResumeCmd = &cobra.Command{
	Use:   "resume PROCESSOR_ID",
	Short: "resume a paused processor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(adminPost(adminAddr, "/processors/"+args[0]+"/resume"))
	},
}

var resetToPosition int64

var processorResetCmd = &cobra.Command{
	Use:   "reset PROCESSOR_ID",
	Short: "rewind a processor's checkpoint, by default to the start of the log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/processors/%s/reset?to_position=%d", args[0], resetToPosition)
		return printJSON(adminPost(adminAddr, path))
	},
}

func init() {
	processorResetCmd.Flags().Int64Var(&resetToPosition, "to-position", 0, "position to rewind the checkpoint to")
}
