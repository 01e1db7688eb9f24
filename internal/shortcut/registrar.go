package shortcut

// Registrar binds key combinations to callbacks at the OS level
type Registrar interface {
	Register(c Combo, fn func()) error
	Unregister(c Combo) error
}
