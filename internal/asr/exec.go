package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"

	"github.com/verba-labs/verba-core/internal/config"
	"github.com/verba-labs/verba-core/internal/wave"
)

// execBackend shells out to an external transcriber that reads a WAV file and
// prints {"text": ..., "confidence": ...} on stdout.
type execBackend struct {
	cmd []string
	cfg config.ASRConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newExecBackend(cfg config.ASRConfig) (*execBackend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("asr: parse exec command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr: exec command is empty")
	}
	return &execBackend{cmd: args, cfg: cfg}, nil
}

func (b *execBackend) Decode(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	file, err := os.CreateTemp("", "verba_asr_*.wav")
	if err != nil {
		return "", fmt.Errorf("asr: temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := wave.WriteWAV(file, pcmBytes(samples), sampleRate, 1); err != nil {
		return "", fmt.Errorf("asr: stage waveform: %w", err)
	}

	args := append([]string(nil), b.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}
	if b.cfg.Language != "" {
		args = append(args, "--language", b.cfg.Language)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("asr: exec transcriber failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("asr: decode transcriber response: %w", err)
	}
	return resp.Text, nil
}

func (b *execBackend) Close() error {
	return nil
}

// pcmBytes converts normalized samples back to little-endian int16 frames for
// the staged WAV file, clipping at the int16 bounds.
func pcmBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		v := math.Round(float64(f) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		}
		if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
