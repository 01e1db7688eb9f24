package tray

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

func TestBuildMenu(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		st     recording.Status
		status string
		start  bool
		stop   bool
		cancel bool
		copy   bool
	}{
		{
			name:   "idle",
			st:     recording.Status{State: string(recording.StateIdle)},
			status: "Idle",
			start:  true,
		},
		{
			name: "recording",
			st: recording.Status{
				IsRecording:  true,
				ActiveTaskID: "t1",
				State:        string(recording.StateRecording),
				StartedAt:    now.Add(-75 * time.Second),
			},
			status: "Recording 01:15",
			stop:   true,
			cancel: true,
		},
		{
			name:   "stopping disables everything",
			st:     recording.Status{IsRecording: true, State: string(recording.StateStopping)},
			status: "Saving...",
		},
		{
			name:   "starting",
			st:     recording.Status{State: string(recording.StateStarting)},
			status: "Starting...",
		},
		{
			name:   "idle with last recording",
			st:     recording.Status{State: string(recording.StateIdle), LastPath: "/tmp/memocapture/recording-x.wav"},
			status: "Idle",
			start:  true,
			copy:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := BuildMenu(tt.st, now)
			if m.Status != tt.status {
				t.Errorf("Status = %q, want %q", m.Status, tt.status)
			}
			if m.CanStart != tt.start || m.CanStop != tt.stop || m.CanCancel != tt.cancel || m.CanCopy != tt.copy {
				t.Errorf("menu = %+v", m)
			}
		})
	}
}

func TestBuildMenu_TooltipNamesLastFile(t *testing.T) {
	m := BuildMenu(recording.Status{LastPath: "/tmp/x/recording-a.wav"}, time.Now())
	if !strings.Contains(m.Tooltip, "recording-a.wav") {
		t.Errorf("tooltip = %q", m.Tooltip)
	}
}

func TestIconsArePNG(t *testing.T) {
	for name, icon := range map[string][]byte{"idle": iconIdle, "recording": iconRecording} {
		img, err := png.Decode(bytes.NewReader(icon))
		if err != nil {
			t.Fatalf("%s icon: %v", name, err)
		}
		if img.Bounds().Dx() != 32 {
			t.Errorf("%s icon width = %d", name, img.Bounds().Dx())
		}
	}
	if bytes.Equal(iconIdle, iconRecording) {
		t.Error("idle and recording icons should differ")
	}
}
