package asr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/verba-labs/verba-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingBackend records invocations so tests can assert the backend is
// never reached on ordering violations.
type countingBackend struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (b *countingBackend) Decode(_ context.Context, samples []float32, sampleRate int) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	return b.text, nil
}

func (b *countingBackend) Close() error { return nil }

func testEngine(backend Backend) *Engine {
	cfg := config.Default().ASR
	cfg.Backend = "mock"
	return NewEngine(cfg, backend, newLogger())
}

func TestSessionHappyPath(t *testing.T) {
	backend := &countingBackend{text: "  hello world  "}
	s := testEngine(backend).NewSession()

	if err := s.Accept([]float32{0.1, -0.1}, 16000); err != nil {
		t.Fatalf("accept: %v", err)
	}
	text, err := s.Decode(context.Background())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected trimmed transcript, got %q", text)
	}
	if backend.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", backend.calls)
	}
}

func TestSessionDecodeBeforeAccept(t *testing.T) {
	backend := &countingBackend{text: "nope"}
	s := testEngine(backend).NewSession()

	if _, err := s.Decode(context.Background()); !errors.Is(err, ErrNoWaveform) {
		t.Fatalf("expected ErrNoWaveform, got %v", err)
	}
	if backend.calls != 0 {
		t.Fatalf("backend must not be invoked, got %d calls", backend.calls)
	}
}

func TestSessionRejectsSecondAccept(t *testing.T) {
	s := testEngine(&countingBackend{}).NewSession()
	if err := s.Accept([]float32{0}, 16000); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if err := s.Accept([]float32{0}, 16000); !errors.Is(err, ErrAlreadyAccepted) {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
}

func TestSessionRejectsDoubleDecode(t *testing.T) {
	backend := &countingBackend{text: "once"}
	s := testEngine(backend).NewSession()
	if err := s.Accept([]float32{0}, 16000); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := s.Decode(context.Background()); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := s.Decode(context.Background()); !errors.Is(err, ErrAlreadyDecoded) {
		t.Fatalf("expected ErrAlreadyDecoded, got %v", err)
	}
	if err := s.Accept([]float32{0}, 16000); !errors.Is(err, ErrAlreadyDecoded) {
		t.Fatalf("expected ErrAlreadyDecoded on accept after decode, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("expected exactly 1 backend call, got %d", backend.calls)
	}
}

func TestSessionRejectsEmptyWaveform(t *testing.T) {
	s := testEngine(&countingBackend{}).NewSession()
	if err := s.Accept(nil, 16000); !errors.Is(err, ErrEmptyWaveform) {
		t.Fatalf("expected ErrEmptyWaveform, got %v", err)
	}
	// The failed accept must not consume the session.
	if err := s.Accept([]float32{0}, 16000); err != nil {
		t.Fatalf("accept after empty attempt: %v", err)
	}
}

func TestSessionSurfacesBackendError(t *testing.T) {
	backend := &countingBackend{err: errors.New("onnx runtime fault")}
	s := testEngine(backend).NewSession()
	if err := s.Accept([]float32{0.5}, 16000); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err := s.Decode(context.Background())
	if err == nil || !strings.Contains(err.Error(), "onnx runtime fault") {
		t.Fatalf("expected backend error surfaced, got %v", err)
	}
}

func TestConcurrentSessionsAreIsolated(t *testing.T) {
	// Each session gets a distinct transcript derived from its own waveform;
	// concurrent decodes must not bleed into each other.
	engine := testEngine(newMockBackend())

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := engine.NewSession()
			samples := make([]float32, i+1)
			if err := s.Accept(samples, 16000); err != nil {
				t.Errorf("accept %d: %v", i, err)
				return
			}
			text, err := s.Decode(context.Background())
			if err != nil {
				t.Errorf("decode %d: %v", i, err)
				return
			}
			results[i] = text
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	for i, text := range results {
		if text == "" {
			t.Fatalf("missing result %d", i)
		}
		if prev, dup := seen[text]; dup {
			t.Fatalf("results %d and %d collided: %q", prev, i, text)
		}
		seen[text] = i
	}
}

func TestInitializeMockBackend(t *testing.T) {
	cfg := config.Default().ASR
	cfg.Backend = "mock"
	engine, err := Initialize(cfg, newLogger())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	if engine.SampleRate() != 16000 {
		t.Fatalf("expected sample rate 16000, got %d", engine.SampleRate())
	}
}

func TestInitializeWhisperMissingModel(t *testing.T) {
	cfg := config.Default().ASR
	cfg.Backend = "whisper"
	cfg.ModelPath = "/nonexistent/model.bin"
	if _, err := Initialize(cfg, newLogger()); err == nil {
		t.Fatal("expected error for missing model file")
	}
}
