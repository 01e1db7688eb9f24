package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/client"
	"github.com/audiolibrelab/memocapture/internal/config"
)

var (
	cfg          *config.Config
	cfgFile      string
	serverAddr   string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "memocapture",
	Short: "Voice memo recorder with hotkeys, tray and task list",
	Long: `memocapture records voice memos into a task list.

'memocapture serve' runs the recorder with global hotkeys, a tray icon and
an HTTP API. The other commands talk to that server, or record directly
when none is running.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		// config init must work even when the existing file is broken
		if cmd.Name() == "init" && cmd.Parent() == configCmd {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log.Debug().Str("config", cfgFile).Msg("configuration loaded")
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/memocapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "server address (default is server.addr from the config)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=trace")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(shortcutsCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(tuiCmd)
}

// setupLogging points the global zerolog logger at stderr and picks the
// level from -v
func setupLogging(level int) {
	switch {
	case level >= 2:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case level == 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = zerolog.New(consoleWriter()).With().Timestamp().Logger()
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
}

// attachLogFile adds an append-only JSON log file next to the console output.
// The returned func closes it.
func attachLogFile(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(consoleWriter(), f)).With().Timestamp().Logger()
	log.Debug().Str("file", path).Msg("logging to file")
	return func() { f.Close() }, nil
}

// newClient returns a client for --server, or the configured address
func newClient() *client.Client {
	addr := serverAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	return client.New(addr)
}

// serverRunning reports whether a server answers at the client's address
func serverRunning(ctx context.Context, c *client.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		log.Debug().Err(err).Str("server", c.BaseURL()).Msg("no server")
		return false
	}
	return true
}

// requireServer returns a client for a running server or an error hinting at serve
func requireServer(ctx context.Context) (*client.Client, error) {
	c := newClient()
	if !serverRunning(ctx, c) {
		return nil, fmt.Errorf("no memocapture server at %s (start one with 'memocapture serve')", c.BaseURL())
	}
	return c, nil
}
