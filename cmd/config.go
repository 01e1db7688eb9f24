package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage memocapture configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Printf("# %s\n", cfgFile)
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := config.WriteDefault(cfgFile, force); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", cfgFile)
		return nil
	},
}

var configAudioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Change the audio settings",
	Long: `Change the capture settings. A running server applies them at once
(refused while recording); otherwise they are written to the config file.`,
	Example: `  memocapture config audio --format flac --channels 2
  memocapture config audio --backend native --sample-rate 48000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := cfg.Audio
		flags := cmd.Flags()
		if flags.Changed("backend") {
			a.Backend, _ = flags.GetString("backend")
		}
		if flags.Changed("program") {
			a.Program, _ = flags.GetString("program")
		}
		if flags.Changed("device") {
			a.Device, _ = flags.GetString("device")
		}
		if flags.Changed("sample-rate") {
			a.SampleRate, _ = flags.GetInt("sample-rate")
		}
		if flags.Changed("channels") {
			a.Channels, _ = flags.GetInt("channels")
		}
		if flags.Changed("format") {
			a.Format, _ = flags.GetString("format")
		}
		if flags.Changed("start-timeout") {
			a.StartTimeout, _ = flags.GetDuration("start-timeout")
		}
		if err := config.ValidateAudio(a, "audio"); err != nil {
			return err
		}

		if c := newClient(); serverRunning(cmd.Context(), c) {
			if err := c.UpdateAudio(cmd.Context(), a); err != nil {
				return fmt.Errorf("failed to update audio settings: %w", err)
			}
			fmt.Println("Audio settings applied")
			return nil
		}
		if err := config.SaveAudio(cfgFile, a); err != nil {
			return fmt.Errorf("failed to save audio settings: %w", err)
		}
		fmt.Printf("Audio settings saved to %s\n", cfgFile)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	f := configAudioCmd.Flags()
	f.String("backend", "", "capture backend (auto, sox, rec, arecord, ffmpeg, pw-record, native)")
	f.String("program", "", "program path overriding the backend default")
	f.String("device", "", "input device")
	f.Int("sample-rate", 0, "sample rate in Hz")
	f.Int("channels", 0, "1 or 2")
	f.String("format", "", "wav or flac")
	f.Duration("start-timeout", 0, "how long capture may take to start")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configAudioCmd)
}
