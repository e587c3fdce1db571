package asr

import (
	"context"
	"fmt"
)

type mockBackend struct{}

// newMockBackend returns a backend that echoes waveform shape instead of
// running inference. Useful for wiring tests and dev deployments without a
// model on disk.
func newMockBackend() Backend {
	return &mockBackend{}
}

func (m *mockBackend) Decode(_ context.Context, samples []float32, sampleRate int) (string, error) {
	return fmt.Sprintf("[mock transcript samples=%d rate=%d]", len(samples), sampleRate), nil
}

func (m *mockBackend) Close() error {
	return nil
}
