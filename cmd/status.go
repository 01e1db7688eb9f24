package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/memocapture/internal/events"
	"github.com/audiolibrelab/memocapture/internal/recording"
)

var startCmd = &cobra.Command{
	Use:   "start [title]",
	Short: "Start recording on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		taskID, _ := cmd.Flags().GetString("task")
		res, err := c.Start(cmd.Context(), strings.Join(args, " "), taskID)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		fmt.Printf("Recording task %s to %s\n", res.TaskID, res.Path)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		res, err := c.Stop(cmd.Context())
		if errors.Is(err, recording.ErrNoActiveRecording) {
			fmt.Println("Not recording")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		fmt.Printf("Saved %s (%.1fs)\n", res.Path, res.Duration)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Stop the active recording and discard it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		err = c.Cancel(cmd.Context())
		if errors.Is(err, recording.ErrNoActiveRecording) {
			fmt.Println("Not recording")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to cancel recording: %w", err)
		}
		fmt.Println("Recording discarded")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recording status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireServer(cmd.Context())
		if err != nil {
			return err
		}
		st, lastError, err := c.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(st, time.Now())
		if lastError != "" {
			fmt.Printf("last error: %s\n", lastError)
		}

		if watch, _ := cmd.Flags().GetBool("watch"); !watch {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		stream, err := c.Events(ctx)
		if err != nil {
			return err
		}
		// stop() on return also closes the stream
		go func() {
			<-ctx.Done()
			stream.Close()
		}()

		for {
			e, err := stream.Next()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream closed: %w", err)
			}
			switch e.Type {
			case events.EventStatusChanged:
				if e.Status != nil {
					printStatus(*e.Status, e.Timestamp)
				}
			case events.EventTaskChanged:
				if e.Message != "" {
					fmt.Printf("%s  task %s: %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.TaskID, e.Message)
				}
			case events.EventAppQuit:
				fmt.Println("server quit")
				return nil
			}
		}
	},
}

func printStatus(st events.RecordingStatus, now time.Time) {
	if !st.IsRecording {
		line := st.State
		if st.LastPath != "" {
			line += "  last: " + st.LastPath
		}
		fmt.Println(line)
		return
	}
	elapsed := now.Sub(st.StartedAt).Round(time.Second)
	fmt.Printf("%s  task %s  %s\n", st.State, st.ActiveTaskID, elapsed)
}

func init() {
	startCmd.Flags().String("task", "", "record into an existing queued task")
	statusCmd.Flags().BoolP("watch", "w", false, "keep printing status changes")
}
