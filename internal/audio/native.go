package audio

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// NativeDevice captures in-process through miniaudio and encodes the stream
// itself (WAV or FLAC). It needs no external program.
type NativeDevice struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewNativeDevice() *NativeDevice {
	return &NativeDevice{}
}

func (d *NativeDevice) Name() string { return "native" }

func (d *NativeDevice) context() (*malgo.AllocatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	d.ctx = ctx
	return ctx, nil
}

// Release frees the miniaudio context. The device may be reused afterwards.
func (d *NativeDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

type nativeHandle struct {
	*baseHandle
	device   *malgo.Device
	file     *os.File
	writer   sampleWriter
	chunks   chan []byte
	written  chan error
	stopping atomic.Bool
	dropped  atomic.Uint64
	once     sync.Once
}

func (d *NativeDevice) Open(ctx context.Context, path string, p Params) (Handle, error) {
	mctx, err := d.context()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}
	w, err := newSampleWriter(f, p)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(p.Channels)
	cfg.SampleRate = uint32(p.SampleRate)
	if p.Device != "" {
		idBytes, err := hex.DecodeString(p.Device)
		if err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		cfg.Capture.DeviceID = devID.Pointer()
	}

	h := &nativeHandle{
		baseHandle: newBaseHandle(path),
		file:       f,
		writer:     w,
		chunks:     make(chan []byte, 256),
		written:    make(chan error, 1),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			buf := make([]byte, len(input))
			copy(buf, input)
			select {
			case h.chunks <- buf:
			default:
				h.dropped.Add(1)
			}
		},
		Stop: func() {
			if !h.stopping.Load() {
				go h.teardown(errors.New("capture device stopped unexpectedly"))
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	h.device = dev

	go h.drain()

	started := make(chan error, 1)
	go func() { started <- dev.Start() }()
	select {
	case err := <-started:
		if err != nil {
			h.stopping.Store(true)
			h.teardown(nil)
			os.Remove(path)
			return nil, fmt.Errorf("start capture device: %w", err)
		}
	case <-ctx.Done():
		h.stopping.Store(true)
		h.teardown(nil)
		os.Remove(path)
		return nil, fmt.Errorf("capture device did not start in time: %w", ctx.Err())
	}

	log.Info().Str("path", path).Int("sample_rate", p.SampleRate).Int("channels", p.Channels).Msg("native capture started")
	return h, nil
}

func (h *nativeHandle) drain() {
	var werr error
	for chunk := range h.chunks {
		if werr != nil {
			continue
		}
		werr = h.writer.Write(chunk)
	}
	if cerr := h.writer.Close(); werr == nil {
		werr = cerr
	}
	h.written <- werr
}

// teardown stops the device, flushes the encoder and closes done with cause.
func (h *nativeHandle) teardown(cause error) error {
	var flushErr error
	h.once.Do(func() {
		h.device.Stop()
		h.device.Uninit()
		close(h.chunks)
		flushErr = <-h.written
		if n := h.dropped.Load(); n > 0 {
			log.Warn().Uint64("chunks", n).Str("path", h.path).Msg("capture buffer overflowed, audio dropped")
		}
		h.finish(cause)
	})
	return flushErr
}

func (d *NativeDevice) Close(handle Handle) error {
	h, ok := handle.(*nativeHandle)
	if !ok {
		return ErrHandleMismatch
	}
	select {
	case <-h.done:
		return h.Err()
	default:
	}
	h.stopping.Store(true)
	if err := h.teardown(nil); err != nil {
		return fmt.Errorf("finalise recording: %w", err)
	}
	return nil
}

// DeviceInfo names a native capture device
type DeviceInfo struct {
	ID        string
	Name      string
	IsDefault bool
}

// ListNativeDevices enumerates capture devices visible to miniaudio. The ID
// is accepted as audio.device by the native backend.
func ListNativeDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	defer func() {
		ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceInfo{
			ID:        hex.EncodeToString(dev.ID[:]),
			Name:      dev.Name(),
			IsDefault: dev.IsDefault != 0,
		})
	}
	return out, nil
}
