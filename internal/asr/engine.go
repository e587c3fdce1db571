// Package asr wraps the offline speech recognition backend behind a
// process-wide engine handle and per-request decoding sessions.
package asr

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/verba-labs/verba-core/internal/config"
)

// Backend runs inference over one complete normalized waveform.
type Backend interface {
	Decode(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Close() error
}

// Engine is the long-lived recognition handle. It is constructed exactly once
// at startup, is immutable afterwards, and is shared read-only by all request
// handlers.
type Engine struct {
	cfg     config.ASRConfig
	backend Backend
	log     *slog.Logger
}

// Initialize builds the engine for the configured backend. Any missing or
// unreadable model artifact fails construction; callers must treat that as
// fatal and refuse to serve.
func Initialize(cfg config.ASRConfig, log *slog.Logger) (*Engine, error) {
	var backend Backend
	switch cfg.Backend {
	case "whisper":
		if err := statModelFile(cfg.ModelPath); err != nil {
			return nil, err
		}
		if cfg.TokensPath != "" {
			if err := statModelFile(cfg.TokensPath); err != nil {
				return nil, err
			}
		}
		b, err := newWhisperBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	case "exec":
		b, err := newExecBackend(cfg)
		if err != nil {
			return nil, err
		}
		backend = b
	case "mock":
		backend = newMockBackend()
	default:
		return nil, fmt.Errorf("asr: unknown backend %q", cfg.Backend)
	}

	log.Info("recognition engine initialized",
		slog.String("backend", cfg.Backend),
		slog.String("decoding_method", cfg.DecodingMethod),
		slog.Int("num_threads", cfg.NumThreads),
		slog.Int("sample_rate", cfg.SampleRate))

	return NewEngine(cfg, backend, log), nil
}

// NewEngine wires an engine around an already-constructed backend. Exposed so
// tests and embedders can inject their own Backend.
func NewEngine(cfg config.ASRConfig, backend Backend, log *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		backend: backend,
		log:     log.With(slog.String("component", "asr-engine")),
	}
}

// NewSession returns a fresh single-use decoding session. Safe to call from
// concurrent handlers; sessions share nothing mutable.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// SampleRate is the frame rate the engine's feature extractor is configured
// for. Input at any other rate must be rejected upstream.
func (e *Engine) SampleRate() int {
	return e.cfg.SampleRate
}

// Close releases backend resources. Sessions must not be used afterwards.
func (e *Engine) Close() error {
	return e.backend.Close()
}

func statModelFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("asr: model artifact %q: %w", path, err)
	}
	if info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("asr: model artifact %q is empty or a directory", path)
	}
	return nil
}
