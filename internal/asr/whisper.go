package asr

import (
	"context"
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/verba-labs/verba-core/internal/config"
)

// whisperBackend runs whisper.cpp in-process. The model is loaded once; each
// Decode call creates its own whisper context, so concurrent sessions never
// share decoding state.
type whisperBackend struct {
	model    whisper.Model
	language string
	threads  int
}

func newWhisperBackend(cfg config.ASRConfig) (*whisperBackend, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("asr: load whisper model %q: %w", cfg.ModelPath, err)
	}
	return &whisperBackend{
		model:    model,
		language: cfg.Language,
		threads:  cfg.NumThreads,
	}, nil
}

func (b *whisperBackend) Decode(ctx context.Context, samples []float32, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("asr: create whisper context: %w", err)
	}
	if b.threads > 0 {
		wctx.SetThreads(uint(b.threads))
	}
	if b.language != "" {
		if err := wctx.SetLanguage(b.language); err != nil {
			return "", fmt.Errorf("asr: set language %q: %w", b.language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("asr: whisper process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("asr: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}
	return strings.Join(segments, " "), nil
}

func (b *whisperBackend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}
