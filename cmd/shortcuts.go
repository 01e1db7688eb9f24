package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/client"
	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/shortcut"
)

// shortcutEditor is implemented by the server client and, when no server
// runs, by an unstarted manager that only edits the config file
type shortcutEditor interface {
	List(ctx context.Context) ([]shortcut.Binding, error)
	Update(ctx context.Context, action string, u shortcut.Update) (shortcut.Binding, error)
	Reset(ctx context.Context) ([]shortcut.Binding, error)
}

type remoteShortcuts struct{ c *client.Client }

func (r remoteShortcuts) List(ctx context.Context) ([]shortcut.Binding, error) {
	return r.c.Shortcuts(ctx)
}

func (r remoteShortcuts) Update(ctx context.Context, action string, u shortcut.Update) (shortcut.Binding, error) {
	b, err := r.c.UpdateShortcut(ctx, action, u)
	if err != nil {
		return shortcut.Binding{}, err
	}
	return *b, nil
}

func (r remoteShortcuts) Reset(ctx context.Context) ([]shortcut.Binding, error) {
	return r.c.ResetShortcuts(ctx)
}

type localShortcuts struct{ m *shortcut.Manager }

func (l localShortcuts) List(ctx context.Context) ([]shortcut.Binding, error) {
	return l.m.List(), nil
}

func (l localShortcuts) Update(ctx context.Context, action string, u shortcut.Update) (shortcut.Binding, error) {
	return l.m.Update(action, u)
}

func (l localShortcuts) Reset(ctx context.Context) ([]shortcut.Binding, error) {
	if err := l.m.Reset(); err != nil {
		return nil, err
	}
	return l.m.List(), nil
}

func shortcutBackend(ctx context.Context) shortcutEditor {
	if c := newClient(); serverRunning(ctx, c) {
		return remoteShortcuts{c: c}
	}
	// never started, so nothing is registered with the OS
	return localShortcuts{m: shortcut.NewManager(shortcut.NewSystemRegistrar(), nil, nil, cfgFile, cfg.Shortcuts)}
}

var shortcutsCmd = &cobra.Command{
	Use:   "shortcuts",
	Short: "Show and change the global hotkeys",
	Long: `Show and change the global hotkeys. Edits go to the running server,
which re-registers them at once, or straight to the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return shortcutsListCmd.RunE(cmd, args)
	},
}

var shortcutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hotkey bindings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := shortcutBackend(cmd.Context()).List(cmd.Context())
		if err != nil {
			return err
		}
		printBindings(list)
		return nil
	},
}

var shortcutsSetCmd = &cobra.Command{
	Use:   "set <action> <key>",
	Short: "Bind an action to a key combination, e.g. 'set start Ctrl+Alt+R'",
	Args:  cobra.ExactArgs(2),
	ValidArgs: []string{
		config.ActionStart, config.ActionStop, config.ActionCancel, config.ActionToggle,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[1]
		u := shortcut.Update{Key: &key}
		if cmd.Flags().Changed("description") {
			d, _ := cmd.Flags().GetString("description")
			u.Description = &d
		}
		b, err := shortcutBackend(cmd.Context()).Update(cmd.Context(), args[0], u)
		if err != nil {
			return err
		}
		printBindings([]shortcut.Binding{b})
		return nil
	},
}

var shortcutsEnableCmd = &cobra.Command{
	Use:   "enable <action>",
	Short: "Enable a hotkey binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setShortcutEnabled(cmd.Context(), args[0], true)
	},
}

var shortcutsDisableCmd = &cobra.Command{
	Use:   "disable <action>",
	Short: "Disable a hotkey binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setShortcutEnabled(cmd.Context(), args[0], false)
	},
}

var shortcutsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default hotkeys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := shortcutBackend(cmd.Context()).Reset(cmd.Context())
		if err != nil {
			return err
		}
		printBindings(list)
		return nil
	},
}

func setShortcutEnabled(ctx context.Context, action string, enabled bool) error {
	b, err := shortcutBackend(ctx).Update(ctx, action, shortcut.Update{Enabled: &enabled})
	if err != nil {
		return err
	}
	printBindings([]shortcut.Binding{b})
	return nil
}

func printBindings(list []shortcut.Binding) {
	for _, b := range list {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-8s %-20s %-9s %s\n", b.Action, b.Key, state, b.Description)
	}
}

func init() {
	shortcutsSetCmd.Flags().String("description", "", "new description for the binding")

	shortcutsCmd.AddCommand(shortcutsListCmd)
	shortcutsCmd.AddCommand(shortcutsSetCmd)
	shortcutsCmd.AddCommand(shortcutsEnableCmd)
	shortcutsCmd.AddCommand(shortcutsDisableCmd)
	shortcutsCmd.AddCommand(shortcutsResetCmd)
}
