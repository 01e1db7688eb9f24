package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/audiolibrelab/memocapture/internal/play"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record [title]",
	Short: "Record a memo in the foreground",
	Long: `Record a voice memo until Enter or Ctrl+C is pressed, then save it.

When a server is running the recording goes through it, so its tray, hotkeys
and windows stay in sync. Otherwise the recorder runs inside this command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		taskID, _ := cmd.Flags().GetString("task")
		duration, _ := cmd.Flags().GetDuration("duration")
		playAfter, _ := cmd.Flags().GetBool("play")

		ctx := cmd.Context()

		var (
			res *recording.StopResult
			err error
		)
		if c := newClient(); serverRunning(ctx, c) {
			log.Debug().Str("server", c.BaseURL()).Msg("recording through server")
			res, err = recordRemote(ctx, title, taskID, duration)
		} else {
			res, err = recordLocal(ctx, title, taskID, duration)
		}
		if err != nil {
			return err
		}

		fmt.Printf("Saved %s (%.1fs)\n", res.Path, res.Duration)
		if playAfter {
			return play.New().Play(res.Path)
		}
		return nil
	},
}

func recordRemote(ctx context.Context, title, taskID string, duration time.Duration) (*recording.StopResult, error) {
	c := newClient()
	started, err := c.Start(ctx, title, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Printf("Recording to %s\n", started.Path)
	waitForStop(duration)

	stopped, err := c.Stop(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}
	return &recording.StopResult{TaskID: stopped.TaskID, Path: stopped.Path, Duration: stopped.Duration}, nil
}

func recordLocal(ctx context.Context, title, taskID string, duration time.Duration) (res *recording.StopResult, err error) {
	svc, err := service.New(cfg, cfgFile, service.Options{})
	if errors.Is(err, service.ErrStoreInUse) {
		return nil, fmt.Errorf("%w; stop the recording there first", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := svc.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = serr
		}
	}()

	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start service: %w", err)
	}

	started, err := svc.StartRecording(ctx, recording.StartRequest{Title: title, TaskID: taskID})
	if err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	fmt.Printf("Recording to %s\n", started.Path)
	waitForStop(duration)

	res, err = svc.StopRecording(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}
	return res, nil
}

// waitForStop blocks until Enter, an interrupt, or the duration elapses
func waitForStop(duration time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	enter := make(chan struct{})
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Println("Press Enter or Ctrl+C to stop")
		go func() {
			bufio.NewReader(os.Stdin).ReadString('\n')
			close(enter)
		}()
	}

	var timeout <-chan time.Time
	if duration > 0 {
		timeout = time.After(duration)
	}

	select {
	case <-sigChan:
	case <-enter:
	case <-timeout:
	}
	log.Debug().Msg("stopping recording")
}

func init() {
	recordCmd.Flags().String("task", "", "record into an existing queued task")
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long")
	recordCmd.Flags().Bool("play", false, "play the memo after saving")
}
