package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/audiolibrelab/memocapture/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task"},
	Short:   "Manage recorded memos",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		list, err := c.Tasks(cmd.Context(), tasks.Status(status))
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No tasks")
			return nil
		}

		titleWidth := 40
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 80 {
			titleWidth = w - 80 + 40
		}
		for _, t := range list {
			fmt.Printf("%-36s  %-*s  %-9s  %6s  %s\n",
				t.ID, titleWidth, clip(t.Title, titleWidth), t.Status,
				formatSeconds(t.Duration), t.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var tasksCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Add a queued task to record later",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		t, err := c.CreateTask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(t.ID)
		return nil
	},
}

var tasksRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Change a task's title",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		title := strings.Join(args[1:], " ")
		t, err := c.UpdateTask(cmd.Context(), args[0], tasks.Patch{Title: &title})
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", t.ID, t.Title)
		return nil
	},
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete tasks and their audio files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := c.DeleteTask(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
			fmt.Printf("Deleted %s\n", id)
		}
		return nil
	},
}

var tasksOpenCmd = &cobra.Command{
	Use:   "open <id>",
	Short: "Open a task's audio in the default application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		return c.OpenTask(cmd.Context(), args[0])
	},
}

var tasksPathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Print a task's audio file path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		t, err := c.Task(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if t.AudioPath == "" {
			return fmt.Errorf("task %s has no audio file", t.ID)
		}
		fmt.Println(t.AudioPath)
		if copyPath, _ := cmd.Flags().GetBool("copy"); copyPath {
			if err := clipboard.WriteAll(t.AudioPath); err != nil {
				return fmt.Errorf("failed to copy path: %w", err)
			}
		}
		return nil
	},
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	s := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func init() {
	tasksListCmd.Flags().String("status", "", "only tasks with this status (queued, recording, completed)")
	tasksPathCmd.Flags().Bool("copy", false, "also copy the path to the clipboard")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksCreateCmd)
	tasksCmd.AddCommand(tasksRenameCmd)
	tasksCmd.AddCommand(tasksDeleteCmd)
	tasksCmd.AddCommand(tasksOpenCmd)
	tasksCmd.AddCommand(tasksPathCmd)
}
