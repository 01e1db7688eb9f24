// Package tray is the system tray trigger source. The menu is derived only
// from the last received status snapshot.
package tray

import (
	"path/filepath"
	"time"

	"github.com/audiolibrelab/memocapture/internal/recording"
)

// Menu is the presentation of one status snapshot
type Menu struct {
	Status    string
	Tooltip   string
	Recording bool
	CanStart  bool
	CanStop   bool
	CanCancel bool
	CanCopy   bool
}

// BuildMenu derives the tray menu from st. now is used for the elapsed time.
func BuildMenu(st recording.Status, now time.Time) Menu {
	m := Menu{CanCopy: st.LastPath != ""}

	switch recording.State(st.State) {
	case recording.StateStarting:
		m.Status = "Starting..."
	case recording.StateStopping:
		m.Status = "Saving..."
	case recording.StateCancelling:
		m.Status = "Discarding..."
	default:
		if st.IsRecording {
			m.Status = "Recording " + formatElapsed(now.Sub(st.StartedAt))
		} else {
			m.Status = "Idle"
		}
	}

	m.Recording = st.IsRecording
	busy := st.State != "" && st.State != string(recording.StateIdle) && st.State != string(recording.StateRecording)
	if !busy {
		m.CanStart = !st.IsRecording
		m.CanStop = st.IsRecording
		m.CanCancel = st.IsRecording
	}

	m.Tooltip = "memocapture - " + m.Status
	if !st.IsRecording && st.LastPath != "" {
		m.Tooltip += " (last: " + filepath.Base(st.LastPath) + ")"
	}
	return m
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return time.Time{}.Add(d).Format("04:05")
}
