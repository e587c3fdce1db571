// Package server exposes the transcription HTTP API: /health, /, and
// /transcribe. It owns transport validation and maps every downstream
// failure to a structured JSON error body.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/verba-labs/verba-core/internal/asr"
	"github.com/verba-labs/verba-core/internal/protocol"
	"github.com/verba-labs/verba-core/internal/transcripts"
	"github.com/verba-labs/verba-core/internal/wave"
)

const maxUploadBytes = 32 << 20

// Publisher fans a final transcript out to interested consumers.
type Publisher interface {
	PublishTranscript(protocol.Transcript) error
}

type Server struct {
	engine    *asr.Engine
	store     *transcripts.Store
	publisher Publisher
	log       *slog.Logger

	requests  metric.Int64Counter
	decodeDur metric.Float64Histogram
}

// New wires the transcription API around an initialized engine. store must be
// non-nil (use an ephemeral store to disable persistence); publisher may be
// nil when bus fan-out is disabled.
func New(engine *asr.Engine, store *transcripts.Store, publisher Publisher, log *slog.Logger) *Server {
	s := &Server{
		engine:    engine,
		store:     store,
		publisher: publisher,
		log:       log.With(slog.String("component", "http-api")),
	}
	s.initMetrics()
	return s
}

func (s *Server) initMetrics() {
	meter := otel.Meter("github.com/verba-labs/verba-core/server")
	var err error
	s.requests, err = meter.Int64Counter("verba.transcribe.requests",
		metric.WithDescription("Transcription requests by outcome"))
	if err != nil {
		s.log.Warn("failed to initialize request counter", slog.String("error", err.Error()))
	}
	s.decodeDur, err = meter.Float64Histogram("verba.transcribe.duration_ms",
		metric.WithDescription("End-to-end transcription duration"))
	if err != nil {
		s.log.Warn("failed to initialize duration histogram", slog.String("error", err.Error()))
	}
}

// Routes returns the API handler with CORS applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	mux.HandleFunc("/", s.handleIndex)
	return withCORS(mux)
}

// handleHealth reports process liveness only. It deliberately ignores engine
// and provisioning state; readiness has its own endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "OK",
		"endpoints": map[string]string{
			"health":     "GET /health",
			"transcribe": "POST /transcribe",
		},
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID := uuid.NewString()
	start := time.Now()
	log := s.log.With(slog.String("request_id", requestID))

	status, text, sampleCount := s.transcribe(w, r, log)
	elapsed := time.Since(start)

	if s.requests != nil {
		s.requests.Add(r.Context(), 1,
			metric.WithAttributes(attribute.Int("status", status)))
	}
	if s.decodeDur != nil {
		s.decodeDur.Record(r.Context(), float64(elapsed.Milliseconds()))
	}

	if status != http.StatusOK {
		return
	}

	log.Info("transcription complete",
		slog.Int("samples", sampleCount),
		slog.Int64("duration_ms", elapsed.Milliseconds()))

	s.record(r.Context(), protocol.Transcript{
		RequestID:   requestID,
		Text:        text,
		SampleCount: sampleCount,
		SampleRate:  s.engine.SampleRate(),
		DurationMS:  elapsed.Milliseconds(),
		Timestamp:   time.Now().UTC(),
	}, log)
}

// transcribe runs the full request pipeline and writes the HTTP response. It
// returns the status it wrote, plus the transcript and sample count on
// success.
func (s *Server) transcribe(w http.ResponseWriter, r *http.Request, log *slog.Logger) (int, string, int) {
	pcm, status, msg := s.extractWaveform(r)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return status, "", 0
	}

	if pcm.SampleRate != s.engine.SampleRate() {
		msg := fmt.Sprintf("unsupported sample rate %d, engine expects %d", pcm.SampleRate, s.engine.SampleRate())
		writeError(w, http.StatusBadRequest, msg)
		return http.StatusBadRequest, "", 0
	}

	samples := wave.Normalize(pcm.Samples)

	session := s.engine.NewSession()
	if err := session.Accept(samples, pcm.SampleRate); err != nil {
		log.Warn("waveform rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError, "", 0
	}

	text, err := session.Decode(r.Context())
	if err != nil {
		log.Warn("decode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError, "", 0
	}

	writeJSON(w, http.StatusOK, map[string]string{"text": text})
	return http.StatusOK, text, len(samples)
}

// extractWaveform pulls audio out of either accepted transport and decodes it
// to canonical PCM. A non-OK status carries the client-facing message.
func (s *Server) extractWaveform(r *http.Request) (*wave.PCM, int, string) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.waveformFromUpload(r)
	}
	return s.waveformFromJSON(r)
}

func (s *Server) waveformFromUpload(r *http.Request) (*wave.PCM, int, string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, http.StatusBadRequest, fmt.Sprintf("invalid multipart body: %v", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, http.StatusBadRequest, "audio file missing"
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".wav" {
		return nil, http.StatusBadRequest, fmt.Sprintf("unsupported audio format %q, expected .wav", ext)
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err)
	}
	if len(data) > maxUploadBytes {
		return nil, http.StatusBadRequest, "audio file too large"
	}

	pcm, err := wave.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}
	return pcm, http.StatusOK, ""
}

// waveformFromJSON handles the raw-PCM transport: a JSON byte array that gets
// wrapped in a minimal WAV container so both transports share one decode
// path. The staging file is removed on every exit path.
func (s *Server) waveformFromJSON(r *http.Request) (*wave.PCM, int, string) {
	var body struct {
		AudioData *[]int `json:"audioData"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&body); err != nil {
		return nil, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err)
	}
	if body.AudioData == nil {
		return nil, http.StatusBadRequest, "audioData missing"
	}

	raw := make([]byte, len(*body.AudioData))
	for i, v := range *body.AudioData {
		if v < 0 || v > 255 {
			return nil, http.StatusBadRequest, fmt.Sprintf("audioData[%d] = %d is not a byte", i, v)
		}
		raw[i] = byte(v)
	}

	tmp, err := os.CreateTemp("", "verba_upload_*.wav")
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Sprintf("stage upload: %v", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := wave.WriteWAV(tmp, raw, s.engine.SampleRate(), 1); err != nil {
		if errors.Is(err, wave.ErrMalformed) {
			return nil, http.StatusBadRequest, err.Error()
		}
		return nil, http.StatusInternalServerError, err.Error()
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, http.StatusInternalServerError, fmt.Sprintf("rewind staged wav: %v", err)
	}

	pcm, err := wave.Decode(tmp)
	if err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}
	return pcm, http.StatusOK, ""
}

// record persists and publishes a finished transcript. Neither failure mode
// affects the already-written HTTP response.
func (s *Server) record(ctx context.Context, t protocol.Transcript, log *slog.Logger) {
	if err := s.store.Append(ctx, transcripts.Record{
		RequestID:   t.RequestID,
		Text:        t.Text,
		SampleCount: t.SampleCount,
		SampleRate:  t.SampleRate,
		DurationMS:  t.DurationMS,
	}); err != nil {
		log.Warn("failed to persist transcript", slog.String("error", err.Error()))
	}
	if s.publisher != nil {
		if err := s.publisher.PublishTranscript(t); err != nil {
			log.Warn("failed to publish transcript", slog.String("error", err.Error()))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
