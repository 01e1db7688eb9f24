package audio

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"

	"github.com/audiolibrelab/memocapture/internal/config"
)

// autoOrder is the preference order for the auto backend. The first program
// found on PATH wins; native capture is the fallback.
var autoOrder = []string{
	config.BackendSox,
	config.BackendRec,
	config.BackendArecord,
	config.BackendPWRecord,
	config.BackendFFmpeg,
}

var lookPath = exec.LookPath

// New creates the capture device selected by cfg
func New(cfg config.AudioConfig) (CaptureDevice, error) {
	backend := ResolveBackend(cfg)
	log.Debug().Str("configured", cfg.Backend).Str("selected", backend).Msg("capture backend resolved")

	switch backend {
	case config.BackendNative:
		return NewNativeDevice(), nil
	case config.BackendSox, config.BackendRec, config.BackendArecord, config.BackendFFmpeg, config.BackendPWRecord:
		program := cfg.Program
		if program == "" {
			program = defaultProgram(backend)
		}
		if _, err := lookPath(program); err != nil {
			return nil, fmt.Errorf("capture program %q for backend %s not found: %w", program, backend, err)
		}
		return NewProcessDevice(backend, program), nil
	}
	return nil, fmt.Errorf("unknown capture backend: %s", backend)
}

// ResolveBackend resolves "auto" to the backend New would pick
func ResolveBackend(cfg config.AudioConfig) string {
	if cfg.Backend != "" && cfg.Backend != config.BackendAuto {
		return cfg.Backend
	}
	for _, b := range autoOrder {
		if b == config.BackendArecord && cfg.Format != "wav" {
			continue
		}
		if _, err := lookPath(defaultProgram(b)); err == nil {
			return b
		}
	}
	return config.BackendNative
}

// BackendStatus describes one backend's availability on this system
type BackendStatus struct {
	Name      string `json:"name"`
	Program   string `json:"program"`
	Available bool   `json:"available"`
}

// GetAvailableBackends reports every backend and whether it can run here
func GetAvailableBackends() []BackendStatus {
	out := make([]BackendStatus, 0, len(autoOrder)+1)
	for _, b := range autoOrder {
		program := defaultProgram(b)
		path, err := lookPath(program)
		if err == nil {
			program = path
		}
		out = append(out, BackendStatus{Name: b, Program: program, Available: err == nil})
	}
	out = append(out, BackendStatus{Name: config.BackendNative, Program: "(in-process)", Available: true})
	return out
}

// ParamsFrom builds capture parameters from the audio config
func ParamsFrom(cfg config.AudioConfig) Params {
	return Params{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Format:     cfg.Format,
		Device:     cfg.Device,
	}
}
