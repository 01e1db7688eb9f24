package cmd

import (
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:     "tui",
	Aliases: []string{"window"},
	Short:   "Open the recorder window in the terminal",
	Long: `Open a terminal window on the running server with live status and the
task list. Closing it leaves the server running when ui.minimize_to_tray is
set; otherwise it quits the server too.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return tui.Run(cmd.Context(), newClient(), cfg.UI.MinimizeToTray && cfg.UI.Tray)
	},
}
