// Package wave converts inbound audio bytes into the canonical waveform the
// recognition engine consumes: mono, 16-bit PCM, decoded to int16 samples and
// normalized to float32 in [-1, 1].
package wave

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrMalformed           = errors.New("malformed wav container")
	ErrUnsupportedChannels = errors.New("unsupported channel count")
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")
)

// PCM is the decoded form of one audio clip.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Decode parses a WAV container and returns its samples and declared frame
// rate. Only mono 16-bit input is accepted; anything else fails outright
// rather than being coerced.
func Decode(r io.ReadSeeker) (*PCM, error) {
	d := wav.NewDecoder(r)
	d.ReadInfo()
	if d.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, d.Err())
	}
	if d.NumChans == 0 {
		return nil, fmt.Errorf("%w: missing format header", ErrMalformed)
	}
	if d.NumChans != 1 {
		return nil, fmt.Errorf("%w: got %d channels, want mono", ErrUnsupportedChannels, d.NumChans)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("%w: got %d bits per sample, want 16", ErrUnsupportedBitDepth, d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	samples := make([]int16, len(buf.Data))
	for i, s := range buf.Data {
		samples[i] = int16(s)
	}
	return &PCM{Samples: samples, SampleRate: int(d.SampleRate)}, nil
}

// WriteWAV wraps raw little-endian 16-bit PCM bytes in a minimal WAV
// container so both transport variants share one decode path.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("%w: pcm payload not aligned to 16-bit frames", ErrMalformed)
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
