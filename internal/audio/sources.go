package audio

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/memocapture/internal/config"
)

var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// ListSources returns the input devices a backend can be pointed at through
// audio.device. Backends without enumeration return an empty list.
func ListSources(backend string) ([]string, error) {
	switch backend {
	case config.BackendPWRecord:
		out, err := runCommand("pw-link", "-o")
		if err != nil {
			return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
		}
		return parsePipeWireNodes(string(out)), nil
	case config.BackendArecord:
		out, err := runCommand("arecord", "-L")
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
		}
		return parseALSADevices(string(out)), nil
	case config.BackendNative:
		devices, err := ListNativeDevices()
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(devices))
		for _, d := range devices {
			out = append(out, d.ID)
		}
		return out, nil
	}
	return nil, nil
}

// parsePipeWireNodes turns "node:port" lines into unique node names, in order
func parsePipeWireNodes(output string) []string {
	var nodes []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "ports:") {
			continue
		}
		node := line
		if i := strings.LastIndex(line, ":"); i > 0 {
			node = line[:i]
		}
		if !seen[node] {
			seen[node] = true
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// parseALSADevices keeps the device names of `arecord -L`; descriptions are indented
func parseALSADevices(output string) []string {
	var devices []string
	for _, line := range strings.Split(output, "\n") {
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		if line = strings.TrimSpace(line); line != "null" {
			devices = append(devices, line)
		}
	}
	return devices
}

// ValidateSource checks that device is present exactly once in available.
// An empty device means the backend default and is always valid.
func ValidateSource(device string, available []string) error {
	if device == "" || device == "default" {
		return nil
	}
	count := 0
	for _, s := range available {
		if s == device {
			count++
		}
	}
	switch {
	case count == 0:
		return fmt.Errorf("source not found: %s", device)
	case count > 1:
		return fmt.Errorf("duplicate sources detected for '%s'", device)
	}
	return nil
}
