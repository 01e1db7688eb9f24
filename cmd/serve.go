package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/server"
	"github.com/audiolibrelab/memocapture/internal/service"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder with hotkeys, tray and HTTP API",
	Long: `Run memocapture in the foreground. Global hotkeys and the tray icon
control recording, and the HTTP API on server.addr serves the web page,
the terminal window and the other CLI commands.

An interrupted recording from a previous run is finalised on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		noHotkeys, _ := cmd.Flags().GetBool("no-hotkeys")
		noTray, _ := cmd.Flags().GetBool("no-tray")

		closeLog, err := attachLogFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer closeLog()

		svc, err := service.New(cfg, cfgFile, service.Options{Hotkeys: !noHotkeys, Tray: !noTray})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			svc.Shutdown(context.Background())
			return fmt.Errorf("failed to start service: %w", err)
		}

		srv := server.New(svc, svc.Bus(), cfg.Server.Addr)
		svc.OnShutdown(srv.Shutdown)

		serverErr := make(chan error, 1)
		go func() { serverErr <- srv.Start() }()

		log.Info().Str("addr", cfg.Server.Addr).Str("config", cfgFile).Msg("memocapture running")

		var runErr error
		select {
		case <-ctx.Done():
			log.Info().Msg("signal received, shutting down")
		case <-svc.Done():
			log.Info().Msg("quit requested, shutting down")
		case err := <-serverErr:
			if err != nil {
				runErr = fmt.Errorf("server failed: %w", err)
				log.Error().Err(err).Msg("server stopped")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown finished with errors")
			if runErr == nil {
				runErr = err
			}
		}
		log.Info().Msg("memocapture stopped")
		return runErr
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().Bool("no-hotkeys", false, "do not register global hotkeys")
	serveCmd.Flags().Bool("no-tray", false, "do not show the tray icon")
}
