package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	WAVHeaderSize  = 44
	bitsPerSample  = 16
	flacBlockSize  = 4096
	bytesPerSample = bitsPerSample / 8
)

// sampleWriter consumes interleaved signed 16-bit little-endian PCM
type sampleWriter interface {
	Write(pcm []byte) error
	Close() error
}

func newSampleWriter(f *os.File, p Params) (sampleWriter, error) {
	switch p.Format {
	case "wav":
		return newWAVWriter(f, p)
	case "flac":
		return newFLACWriter(f, p)
	}
	return nil, fmt.Errorf("unsupported format: %s", p.Format)
}

// wavWriter streams PCM after a placeholder header and patches the chunk
// sizes on Close.
type wavWriter struct {
	f        *os.File
	p        Params
	dataSize uint32
}

func newWAVWriter(f *os.File, p Params) (*wavWriter, error) {
	w := &wavWriter{f: f, p: p}
	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *wavWriter) writeHeader() error {
	var hdr [WAVHeaderSize]byte
	blockAlign := uint16(w.p.Channels * bytesPerSample)
	byteRate := uint32(w.p.SampleRate) * uint32(blockAlign)

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+w.dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(w.p.Channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(w.p.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], w.dataSize)

	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}
	return nil
}

func (w *wavWriter) Write(pcm []byte) error {
	if _, err := w.f.WriteAt(pcm, int64(WAVHeaderSize)+int64(w.dataSize)); err != nil {
		return fmt.Errorf("writing wav data: %w", err)
	}
	w.dataSize += uint32(len(pcm))
	return nil
}

func (w *wavWriter) Close() error {
	if err := w.writeHeader(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("syncing wav file: %w", err)
	}
	return w.f.Close()
}

// flacWriter buffers PCM into fixed-size blocks and encodes verbatim frames
type flacWriter struct {
	f        *os.File
	enc      *flac.Encoder
	channels int
	rate     uint32
	pending  []int32 // interleaved samples not yet encoded
}

func newFLACWriter(f *os.File, p Params) (*flacWriter, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(p.SampleRate),
		NChannels:     uint8(p.Channels),
		BitsPerSample: bitsPerSample,
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	return &flacWriter{f: f, enc: enc, channels: p.Channels, rate: uint32(p.SampleRate)}, nil
}

func (w *flacWriter) Write(pcm []byte) error {
	for i := 0; i+1 < len(pcm); i += bytesPerSample {
		w.pending = append(w.pending, int32(int16(binary.LittleEndian.Uint16(pcm[i:]))))
	}
	blockSamples := flacBlockSize * w.channels
	for len(w.pending) >= blockSamples {
		if err := w.encodeBlock(w.pending[:blockSamples]); err != nil {
			return err
		}
		w.pending = w.pending[blockSamples:]
	}
	return nil
}

func (w *flacWriter) encodeBlock(interleaved []int32) error {
	n := len(interleaved) / w.channels
	if n == 0 {
		return nil
	}

	subframes := make([]*frame.Subframe, w.channels)
	for ch := 0; ch < w.channels; ch++ {
		samples := make([]int32, n)
		for i := 0; i < n; i++ {
			samples[i] = interleaved[i*w.channels+ch]
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  n,
		}
	}

	channels := frame.ChannelsMono
	if w.channels == 2 {
		channels = frame.ChannelsLR
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(n),
			SampleRate:    w.rate,
			Channels:      channels,
			BitsPerSample: bitsPerSample,
		},
		Subframes: subframes,
	}
	if err := w.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	return nil
}

func (w *flacWriter) Close() error {
	var errs []error
	if err := w.encodeBlock(w.pending); err != nil {
		errs = append(errs, err)
	}
	w.pending = nil
	if err := w.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing flac encoder: %w", err))
	}
	if err := w.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
