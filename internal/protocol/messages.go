package protocol

import "time"

// Transcript is the final recognition result broadcast on the bus after a
// successful transcription request.
type Transcript struct {
	RequestID   string    `json:"request_id"`
	Text        string    `json:"text"`
	SampleCount int       `json:"sample_count"`
	SampleRate  int       `json:"sample_rate"`
	DurationMS  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

const SubjectTranscriptFinal = "asr.transcript.final"
