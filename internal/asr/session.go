package asr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoWaveform      = errors.New("no waveform accepted")
	ErrAlreadyAccepted = errors.New("session already holds a waveform")
	ErrAlreadyDecoded  = errors.New("session already decoded")
	ErrEmptyWaveform   = errors.New("waveform is empty")
)

type sessionState int

const (
	stateCreated sessionState = iota
	stateAccepted
	stateDecoded
)

// Session is a single-use decoding unit. State moves strictly forward:
// created -> accepted -> decoded. A session is owned by exactly one request
// and holds no resources beyond its sample buffer, so abandoning it in any
// state is safe.
type Session struct {
	engine     *Engine
	state      sessionState
	samples    []float32
	sampleRate int
}

// Accept stores the normalized waveform for decoding. It fails on an empty
// waveform and on any second call.
func (s *Session) Accept(samples []float32, sampleRate int) error {
	switch s.state {
	case stateAccepted:
		return ErrAlreadyAccepted
	case stateDecoded:
		return ErrAlreadyDecoded
	}
	if len(samples) == 0 {
		return ErrEmptyWaveform
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	s.samples = samples
	s.sampleRate = sampleRate
	s.state = stateAccepted
	return nil
}

// Decode runs inference synchronously and returns the trimmed transcript.
// It fails before Accept and on a second call; the backend is never invoked
// in either case.
func (s *Session) Decode(ctx context.Context) (string, error) {
	switch s.state {
	case stateCreated:
		return "", ErrNoWaveform
	case stateDecoded:
		return "", ErrAlreadyDecoded
	}
	s.state = stateDecoded

	text, err := s.engine.backend.Decode(ctx, s.samples, s.sampleRate)
	if err != nil {
		return "", fmt.Errorf("decode waveform: %w", err)
	}
	return strings.TrimSpace(text), nil
}
