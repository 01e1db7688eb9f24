package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play <file|task-id>",
	Short: "Play a recording",
	Long: `Play an audio file, or the recording of a task on the running server.
Uses VLC, mpv, ffplay or aplay, whichever is installed first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			c, err := requireServer(cmd.Context())
			if err != nil {
				return fmt.Errorf("%s is not a file: %w", path, err)
			}
			t, err := c.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t.AudioPath == "" {
				return fmt.Errorf("task %s has no audio file", t.ID)
			}
			path = t.AudioPath
		}

		fmt.Printf("Playing %s\n", path)
		if err := play.New().Play(path); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
