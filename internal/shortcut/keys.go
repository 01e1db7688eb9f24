package shortcut

import (
	"errors"
	"fmt"
	"strings"
)

// Modifier is a canonical modifier name
type Modifier string

const (
	ModCtrl  Modifier = "Ctrl"
	ModAlt   Modifier = "Alt"
	ModShift Modifier = "Shift"
	ModSuper Modifier = "Super"
)

var modifierOrder = []Modifier{ModCtrl, ModAlt, ModShift, ModSuper}

var ErrInvalidKey = errors.New("invalid key combination")

// Combo is a parsed key combination such as Ctrl+Shift+R
type Combo struct {
	Mods []Modifier
	Key  string
}

// String renders the canonical form. Two combos are the same binding
// exactly when their strings are equal.
func (c Combo) String() string {
	parts := make([]string, 0, len(c.Mods)+1)
	for _, m := range c.Mods {
		parts = append(parts, string(m))
	}
	return strings.Join(append(parts, c.Key), "+")
}

var modifierAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
	"win":     ModSuper,
}

var namedKeys = map[string]string{
	"space":  "Space",
	"enter":  "Enter",
	"return": "Enter",
	"esc":    "Escape",
	"escape": "Escape",
	"tab":    "Tab",
	"delete": "Delete",
	"up":     "Up",
	"down":   "Down",
	"left":   "Left",
	"right":  "Right",
}

// ParseCombo parses "Ctrl+Shift+R" style strings. Modifiers are case
// insensitive and may appear in any order; CommandOrControl resolves to the
// platform's primary modifier. At least one modifier is required.
func ParseCombo(s string) (Combo, error) {
	parts := strings.Split(strings.ReplaceAll(s, " ", ""), "+")
	if len(parts) < 2 {
		return Combo{}, fmt.Errorf("%w: %q needs at least one modifier and a key", ErrInvalidKey, s)
	}

	seen := make(map[Modifier]bool)
	for _, p := range parts[:len(parts)-1] {
		lower := strings.ToLower(p)
		var m Modifier
		switch lower {
		case "commandorcontrol", "cmdorctrl":
			m = primaryModifier
		default:
			var ok bool
			if m, ok = modifierAliases[lower]; !ok {
				return Combo{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidKey, p, s)
			}
		}
		if seen[m] {
			return Combo{}, fmt.Errorf("%w: modifier %s repeated in %q", ErrInvalidKey, m, s)
		}
		seen[m] = true
	}

	key, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Combo{}, fmt.Errorf("%w: %v in %q", ErrInvalidKey, err, s)
	}

	c := Combo{Key: key}
	for _, m := range modifierOrder {
		if seen[m] {
			c.Mods = append(c.Mods, m)
		}
	}
	return c, nil
}

func parseKey(k string) (string, error) {
	if k == "" {
		return "", errors.New("missing key")
	}
	if len(k) == 1 {
		ch := k[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return strings.ToUpper(k), nil
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			return k, nil
		}
		return "", fmt.Errorf("unsupported key %q", k)
	}
	lower := strings.ToLower(k)
	if name, ok := namedKeys[lower]; ok {
		return name, nil
	}
	if lower[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(lower, "f%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprintf("f%d", n) == lower {
			return fmt.Sprintf("F%d", n), nil
		}
	}
	return "", fmt.Errorf("unsupported key %q", k)
}

// Canonical returns the canonical form of s, or s unchanged when it does not parse
func Canonical(s string) string {
	c, err := ParseCombo(s)
	if err != nil {
		return s
	}
	return c.String()
}
