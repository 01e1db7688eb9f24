package play

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
)

func fakeLookPath(available ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, a := range available {
			if a == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestFindAudioPlayer_Preference(t *testing.T) {
	p := &Player{lookPath: fakeLookPath("aplay", "mpv")}
	got, err := p.findAudioPlayer()
	if err != nil {
		t.Fatal(err)
	}
	if got != "mpv" {
		t.Errorf("player = %s, want mpv", got)
	}

	p.lookPath = fakeLookPath()
	if _, err := p.findAudioPlayer(); err == nil {
		t.Error("expected error with no players installed")
	}
}

func TestPlayerArgs(t *testing.T) {
	args, err := playerArgs("ffplay", "/r/a.flac")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(args, []string{"-nodisp", "-autoexit", "-loglevel", "error", "/r/a.flac"}) {
		t.Errorf("ffplay args = %v", args)
	}
	if _, err := playerArgs("aplay", "/r/a.flac"); err == nil {
		t.Error("aplay should refuse flac")
	}
	if _, err := playerArgs("winamp", "/r/a.wav"); err == nil {
		t.Error("unknown player should fail")
	}
}

func TestOpenCommand(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"linux", "xdg-open", []string{"/r/a.wav"}},
		{"darwin", "open", []string{"/r/a.wav"}},
		{"windows", "cmd", []string{"/c", "start", "", "/r/a.wav"}},
	}
	for _, tt := range tests {
		name, args := openCommand(tt.goos, "/r/a.wav")
		if name != tt.name || !reflect.DeepEqual(args, tt.args) {
			t.Errorf("%s: got %s %v", tt.goos, name, args)
		}
	}
}

func TestPlay_MissingFile(t *testing.T) {
	p := New()
	if err := p.Play(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := p.Open(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPlay_RunsSelectedPlayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotName string
	var gotArgs []string
	p := &Player{
		goos:     "linux",
		lookPath: fakeLookPath("mpv"),
		command: func(name string, args ...string) *exec.Cmd {
			gotName, gotArgs = name, args
			return exec.Command("true")
		},
	}
	if err := p.Play(path); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if gotName != "mpv" || !reflect.DeepEqual(gotArgs, []string{"--no-video", path}) {
		t.Errorf("ran %s %v", gotName, gotArgs)
	}
}
