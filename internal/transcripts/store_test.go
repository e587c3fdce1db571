package transcripts

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/verba-labs/verba-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.TranscriptsConfig{RetentionMode: "ephemeral"}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Append(context.Background(), Record{RequestID: "r1", Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records != nil {
		t.Fatalf("ephemeral store must not retain records, got %v", records)
	}
}

func TestAppendAndList(t *testing.T) {
	cfg := config.TranscriptsConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
	}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rec := Record{
		RequestID:   "req-123",
		Text:        "hello world",
		SampleCount: 16000,
		SampleRate:  16000,
		DurationMS:  420,
	}
	if err := st.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.RequestID != "req-123" || got.Text != "hello world" || got.SampleCount != 16000 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPruneByAgeAndCount(t *testing.T) {
	cfg := config.TranscriptsConfig{
		Path:          filepath.Join(t.TempDir(), "transcripts.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxRecords:    1,
	}
	st, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	st.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := st.Append(context.Background(), Record{RequestID: "old", Text: "stale"}); err != nil {
		t.Fatalf("append old: %v", err)
	}

	st.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := st.Append(context.Background(), Record{RequestID: "new", Text: "fresh"}); err != nil {
		t.Fatalf("append new: %v", err)
	}
	if err := st.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := st.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "new" {
		t.Fatalf("expected only the fresh record, got %+v", records)
	}
}
