package main

import (
	"golang.design/x/hotkey/mainthread"

	"github.com/audiolibrelab/memocapture/cmd"
)

// Hotkeys and the tray need the OS main thread on macOS, so the CLI runs
// on a secondary goroutine while mainthread owns the main one.
func main() {
	mainthread.Init(cmd.Execute)
}
