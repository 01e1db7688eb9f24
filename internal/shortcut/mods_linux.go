package shortcut

const primaryModifier = ModCtrl

// evdev codes of the left and right modifier keys
var modifierCodes = map[uint16]Modifier{
	29:  ModCtrl,
	97:  ModCtrl,
	42:  ModShift,
	54:  ModShift,
	56:  ModAlt,
	100: ModAlt,
	125: ModSuper,
	126: ModSuper,
}

// evdev key codes from linux/input-event-codes.h
var keyCodes = map[string]uint16{
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"Q": 16, "W": 17, "E": 18, "R": 19, "T": 20, "Y": 21, "U": 22, "I": 23, "O": 24, "P": 25,
	"A": 30, "S": 31, "D": 32, "F": 33, "G": 34, "H": 35, "J": 36, "K": 37, "L": 38,
	"Z": 44, "X": 45, "C": 46, "V": 47, "B": 48, "N": 49, "M": 50,
	"Escape": 1,
	"Tab":    15,
	"Enter":  28,
	"Space":  57,
	"Up":     103,
	"Left":   105,
	"Right":  106,
	"Down":   108,
	"Delete": 111,
	"F1":     59, "F2": 60, "F3": 61, "F4": 62, "F5": 63, "F6": 64,
	"F7": 65, "F8": 66, "F9": 67, "F10": 68, "F11": 87, "F12": 88,
}
