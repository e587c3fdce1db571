package wave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// encodeWAV builds a WAV file on disk with the given shape and returns its bytes.
func encodeWAV(t *testing.T, samples []int, sampleRate, bitDepth, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read temp wav: %v", err)
	}
	return data
}

func TestDecodeMono16(t *testing.T) {
	src := []int{0, 1, -1, 32767, -32768, 1234, -1234}
	data := encodeWAV(t, src, 16000, 16, 1)

	pcm, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Fatalf("expected rate 16000, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != len(src) {
		t.Fatalf("expected %d samples, got %d", len(src), len(pcm.Samples))
	}
	for i, s := range src {
		if pcm.Samples[i] != int16(s) {
			t.Fatalf("sample %d: expected %d, got %d", i, s, pcm.Samples[i])
		}
	}
}

func TestDecodeRejectsStereo(t *testing.T) {
	data := encodeWAV(t, []int{0, 0, 0, 0}, 16000, 16, 2)
	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrUnsupportedChannels) {
		t.Fatalf("expected ErrUnsupportedChannels, got %v", err)
	}
}

func TestDecodeRejectsWrongBitDepth(t *testing.T) {
	data := encodeWAV(t, []int{0, 0, 0, 0}, 16000, 8, 1)
	_, err := Decode(bytes.NewReader(data))
	if !errors.Is(err, ErrUnsupportedBitDepth) {
		t.Fatalf("expected ErrUnsupportedBitDepth, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a riff header")))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestWriteWAVRoundTrip(t *testing.T) {
	src := []int16{0, 100, -100, 32767, -32768}
	raw := make([]byte, len(src)*2)
	for i, s := range src {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "wrapped.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if err := WriteWAV(f, raw, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	pcm, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode wrapped wav: %v", err)
	}
	if pcm.SampleRate != 16000 {
		t.Fatalf("expected 16000, got %d", pcm.SampleRate)
	}
	if len(pcm.Samples) != len(src) {
		t.Fatalf("expected %d samples (half the byte length), got %d", len(src), len(pcm.Samples))
	}
	for i, s := range src {
		if pcm.Samples[i] != s {
			t.Fatalf("sample %d: expected %d, got %d", i, s, pcm.Samples[i])
		}
	}
}

func TestWriteWAVRejectsOddLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	defer f.Close()
	if err := WriteWAV(f, []byte{1, 2, 3}, 16000, 1); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for odd payload, got %v", err)
	}
}

func TestNormalizeRange(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	out := Normalize(samples)
	if len(out) != len(samples) {
		t.Fatalf("expected %d outputs, got %d", len(samples), len(out))
	}
	for i, f := range out {
		if f < -1.0 || f >= 1.0 {
			t.Fatalf("sample %d out of range: %v", i, f)
		}
	}
	if out[4] != -1.0 {
		t.Fatalf("expected min int16 to map to -1.0 exactly, got %v", out[4])
	}
	if out[3] != float32(32767)/32768.0 {
		t.Fatalf("expected max int16 to map just below 1.0, got %v", out[3])
	}
}

func TestNormalizeRoundTrip(t *testing.T) {
	denormalize := func(f float32) int16 {
		v := math.Round(float64(f) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		return int16(v)
	}

	for i := math.MinInt16; i <= math.MaxInt16; i += 97 {
		s := int16(i)
		got := denormalize(Normalize([]int16{s})[0])
		if got != s {
			t.Fatalf("round trip mismatch for %d: got %d", s, got)
		}
	}
	for _, s := range []int16{math.MinInt16, -1, 0, 1, math.MaxInt16} {
		if got := denormalize(Normalize([]int16{s})[0]); got != s {
			t.Fatalf("round trip mismatch for %d: got %d", s, got)
		}
	}
}
