// Package play plays recordings and hands files to the desktop's default application.
package play

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
)

// preferred audio players, in order
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	goos     string
	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

func New() *Player {
	return &Player{goos: runtime.GOOS, lookPath: exec.LookPath, command: exec.Command}
}

// Play plays the audio file and waits until playback ends
func (p *Player) Play(path string) error {
	cmd, player, err := p.playCommand(path)
	if err != nil {
		return err
	}
	log.Info().Str("player", player).Str("path", path).Msg("playing recording")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}
	log.Debug().Str("path", path).Msg("playback completed")
	return nil
}

// Spawn starts playback in the background and returns immediately
func (p *Player) Spawn(path string) error {
	cmd, player, err := p.playCommand(path)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", player, err)
	}
	log.Info().Str("player", player).Str("path", path).Int("pid", cmd.Process.Pid).Msg("playback started")
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("player", player).Msg("player exited")
		}
	}()
	return nil
}

// Open hands path to the platform's default application
func (p *Player) Open(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	name, args := openCommand(p.goos, path)
	cmd := p.command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open %s with %s: %w", path, name, err)
	}
	go cmd.Wait()
	log.Debug().Str("path", path).Str("opener", name).Msg("opened in default application")
	return nil
}

func (p *Player) playCommand(path string) (*exec.Cmd, string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, "", fmt.Errorf("audio file not found: %s", path)
	}
	player, err := p.findAudioPlayer()
	if err != nil {
		return nil, "", fmt.Errorf("no suitable audio player found: %w", err)
	}
	args, err := playerArgs(player, path)
	if err != nil {
		return nil, "", err
	}
	return p.command(player, args...), player, nil
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerArgs(player, path string) ([]string, error) {
	switch player {
	case "vlc":
		return []string{"--play-and-exit", path}, nil
	case "mpv":
		return []string{"--no-video", path}, nil
	case "ffplay":
		return []string{"-nodisp", "-autoexit", "-loglevel", "error", path}, nil
	case "aplay":
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".wav" {
			return nil, fmt.Errorf("aplay can only play wav files, got %s", ext)
		}
		return []string{path}, nil
	}
	return nil, fmt.Errorf("unsupported player: %s", player)
}

func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "cmd", []string{"/c", "start", "", path}
	}
	return "xdg-open", []string{path}
}
