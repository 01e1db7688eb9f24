package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/audio"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and file paths",
	Long:  `Display where memocapture keeps its files, which capture backend it would use, and whether a server is running.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("config: %s\n", cfgFile)
		fmt.Printf("database: %s\n", cfg.Storage.Database)
		fmt.Printf("output_directory: %s\n", cfg.Output.Directory)
		fmt.Printf("next_recording: %s\n", filepath.Join(cfg.Output.Directory, audio.FileName(time.Now(), cfg.Audio.Format)))
		if cfg.Log.File != "" {
			fmt.Printf("log_file: %s\n", cfg.Log.File)
		}

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s (resolves to %s)\n", cfg.Audio.Backend, audio.ResolveBackend(cfg.Audio))
		fmt.Printf("sample_rate: %d\n", cfg.Audio.SampleRate)
		fmt.Printf("channels: %d\n", cfg.Audio.Channels)
		fmt.Printf("format: %s\n", cfg.Audio.Format)

		fmt.Printf("\n[Server]\n")
		c := newClient()
		fmt.Printf("addr: %s\n", c.BaseURL())
		if !serverRunning(cmd.Context(), c) {
			fmt.Printf("running: no\n")
			return nil
		}
		fmt.Printf("running: yes\n")
		st, lastError, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("state: %s\n", st.State)
		if lastError != "" {
			fmt.Printf("last_error: %s\n", lastError)
		}
		return nil
	},
}
