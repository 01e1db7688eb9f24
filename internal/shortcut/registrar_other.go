//go:build !linux

package shortcut

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

type systemBinding struct {
	hk   *hotkey.Hotkey
	stop chan struct{}
}

// SystemRegistrar registers global hotkeys through golang.design/x/hotkey.
// On macOS the program must run under mainthread.Init. Linux uses the evdev
// registrar instead, since the library needs an X11 display at init.
type SystemRegistrar struct {
	mu    sync.Mutex
	bound map[string]*systemBinding
}

func NewSystemRegistrar() *SystemRegistrar {
	return &SystemRegistrar{bound: make(map[string]*systemBinding)}
}

func (r *SystemRegistrar) Register(c Combo, fn func()) error {
	key, ok := keyCodes[c.Key]
	if !ok {
		return fmt.Errorf("%w: key %s has no system key code", ErrInvalidKey, c.Key)
	}
	mods := make([]hotkey.Modifier, 0, len(c.Mods))
	for _, m := range c.Mods {
		hm, ok := toModifier(m)
		if !ok {
			return fmt.Errorf("%w: modifier %s is not supported on this platform", ErrInvalidKey, m)
		}
		mods = append(mods, hm)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.String()
	if _, exists := r.bound[name]; exists {
		return fmt.Errorf("hotkey %s is already registered", name)
	}

	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("register hotkey %s: %w", name, err)
	}
	b := &systemBinding{hk: hk, stop: make(chan struct{})}
	r.bound[name] = b

	go func() {
		for {
			select {
			case <-b.stop:
				return
			case <-hk.Keydown():
				fn()
			}
		}
	}()
	return nil
}

func (r *SystemRegistrar) Unregister(c Combo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.String()
	b, ok := r.bound[name]
	if !ok {
		return nil
	}
	delete(r.bound, name)
	close(b.stop)
	if err := b.hk.Unregister(); err != nil {
		return fmt.Errorf("unregister hotkey %s: %w", name, err)
	}
	return nil
}

var keyCodes = map[string]hotkey.Key{
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD,
	"E": hotkey.KeyE, "F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH,
	"I": hotkey.KeyI, "J": hotkey.KeyJ, "K": hotkey.KeyK, "L": hotkey.KeyL,
	"M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO, "P": hotkey.KeyP,
	"Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX,
	"Y": hotkey.KeyY, "Z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"Space":  hotkey.KeySpace,
	"Enter":  hotkey.KeyReturn,
	"Escape": hotkey.KeyEscape,
	"Tab":    hotkey.KeyTab,
	"Delete": hotkey.KeyDelete,
	"Up":     hotkey.KeyUp,
	"Down":   hotkey.KeyDown,
	"Left":   hotkey.KeyLeft,
	"Right":  hotkey.KeyRight,
	"F1":     hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
}
