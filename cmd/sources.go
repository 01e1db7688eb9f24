package cmd

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List capture backends and input devices",
	Long: `List the capture backends available on this system and the input
devices the selected backend can record from. Set one as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, _ := cmd.Flags().GetString("backend")
		if backend == "" {
			backend = audio.ResolveBackend(cfg.Audio)
		}

		fmt.Printf("Capture backends (%s)\n", runtime.GOOS)
		for _, b := range audio.GetAvailableBackends() {
			mark := " "
			if b.Name == backend {
				mark = "*"
			}
			state := "missing"
			if b.Available {
				state = "available"
			}
			fmt.Printf(" %s %-10s %-9s %s\n", mark, b.Name, state, b.Program)
		}

		sources, err := audio.ListSources(backend)
		if err != nil {
			return fmt.Errorf("failed to list %s sources: %w", backend, err)
		}
		fmt.Printf("\nInput devices for %s (%d found)\n", backend, len(sources))
		if len(sources) == 0 {
			fmt.Println("  (backend default only)")
		}
		for i, s := range sources {
			fmt.Printf("  %d. %s\n", i+1, s)
		}

		if len(sources) > 0 {
			if err := audio.ValidateSource(cfg.Audio.Device, sources); err != nil {
				log.Warn().Err(err).Str("device", cfg.Audio.Device).Msg("configured device is not usable")
			}
		}
		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("backend", "", "backend to list devices for (default is the configured one)")
}
