package shortcut

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	evKey          = 1
	keyRelease     = 0
	keyPress       = 1
	inputEventSize = 24
)

// modMask has one bit per Modifier, in modifierOrder
type modMask uint8

func maskOf(mods []Modifier) modMask {
	var m modMask
	for _, mod := range mods {
		for i, o := range modifierOrder {
			if o == mod {
				m |= 1 << i
			}
		}
	}
	return m
}

type evdevBinding struct {
	code uint16
	mods modMask
	fn   func()
}

// SystemRegistrar reads key events straight from the keyboards under
// /dev/input, so hotkeys work on X11, Wayland and the console alike.
// The user needs read access to the devices (the 'input' group).
type SystemRegistrar struct {
	mu       sync.Mutex
	bound    map[string]evdevBinding
	files    []*os.File
	stop     chan struct{}
	inputDir string
	sysDir   string
}

func NewSystemRegistrar() *SystemRegistrar {
	return &SystemRegistrar{
		bound:    make(map[string]evdevBinding),
		inputDir: "/dev/input",
		sysDir:   "/sys/class/input",
	}
}

func (r *SystemRegistrar) Register(c Combo, fn func()) error {
	code, ok := keyCodes[c.Key]
	if !ok {
		return fmt.Errorf("%w: key %s has no system key code", ErrInvalidKey, c.Key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.String()
	if _, exists := r.bound[name]; exists {
		return fmt.Errorf("hotkey %s is already registered", name)
	}
	if len(r.files) == 0 {
		if err := r.openKeyboards(); err != nil {
			return fmt.Errorf("register hotkey %s: %w", name, err)
		}
	}
	r.bound[name] = evdevBinding{code: code, mods: maskOf(c.Mods), fn: fn}
	return nil
}

func (r *SystemRegistrar) Unregister(c Combo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bound, c.String())
	if len(r.bound) == 0 {
		r.closeKeyboards()
	}
	return nil
}

func (r *SystemRegistrar) openKeyboards() error {
	keyboards, err := findKeyboards(r.inputDir, r.sysDir)
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return errors.New("no keyboard devices found (is user in 'input' group?)")
	}

	r.stop = make(chan struct{})
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			log.Debug().Err(err).Str("device", path).Msg("cannot open keyboard")
			continue
		}
		r.files = append(r.files, f)
		go r.readEvents(f, r.stop)
	}
	if len(r.files) == 0 {
		close(r.stop)
		r.stop = nil
		return errors.New("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}
	log.Debug().Int("keyboards", len(r.files)).Msg("listening for hotkeys")
	return nil
}

func (r *SystemRegistrar) closeKeyboards() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	for _, f := range r.files {
		f.Close()
	}
	r.files = nil
}

// readEvents tracks held modifiers per device and fires the binding whose
// key and modifier set match a key press exactly
func (r *SystemRegistrar) readEvents(rd io.Reader, stop <-chan struct{}) {
	buf := make([]byte, inputEventSize*16)
	held := make(map[uint16]bool)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := rd.Read(buf)
		if err != nil {
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))
			if evType != evKey {
				continue
			}

			switch evValue {
			case keyRelease:
				delete(held, evCode)
			case keyPress:
				if _, isMod := modifierCodes[evCode]; isMod {
					held[evCode] = true
					continue
				}
				r.fire(evCode, heldMask(held))
			}
		}
	}
}

func heldMask(held map[uint16]bool) modMask {
	mods := make([]Modifier, 0, len(held))
	for code := range held {
		mods = append(mods, modifierCodes[code])
	}
	return maskOf(mods)
}

func (r *SystemRegistrar) fire(code uint16, mods modMask) {
	r.mu.Lock()
	var fns []func()
	for _, b := range r.bound {
		if b.code == code && b.mods == mods {
			fns = append(fns, b.fn)
		}
	}
	r.mu.Unlock()

	// callbacks may block on the recorder; the reader must keep draining
	for _, fn := range fns {
		go fn()
	}
}

func findKeyboards(inputDir, sysDir string) ([]string, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(sysDir, e.Name()) {
			keyboards = append(keyboards, filepath.Join(inputDir, e.Name()))
		}
	}
	return keyboards, nil
}

// isKeyboard treats devices with a long key capability bitmap as keyboards;
// mice and power buttons only report a few keys
func isKeyboard(sysDir, eventName string) bool {
	data, err := os.ReadFile(filepath.Join(sysDir, eventName, "device", "capabilities", "key"))
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(data))) > 10
}
