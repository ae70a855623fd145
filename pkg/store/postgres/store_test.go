package postgres

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-coach/pkg/core/types"
)

func TestMigrations_Embedded(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, name := range names {
		data, err := migrations.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		text := string(data)
		if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{
		{0, defaultRecentLimit},
		{-5, defaultRecentLimit},
		{7, 7},
		{10_000, maxRecentLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Fatalf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOpen_InvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "postgres://%zz", nil, Options{}); err == nil {
		t.Fatal("expected parse error")
	}
}

func requireDatabase(t *testing.T) string {
	t.Helper()
	url := os.Getenv("COACH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("COACH_TEST_DATABASE_URL not set")
	}
	return url
}

func TestStore_RoundTrip(t *testing.T) {
	url := requireDatabase(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := Open(ctx, url, logger, Options{ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	started := time.Now().UTC().Truncate(time.Millisecond)
	report := types.CallReport{
		SessionID:      "call_test_" + started.Format("150405.000"),
		StartedAt:      started,
		EndedAt:        started.Add(3 * time.Minute),
		EndReason:      types.EndReasonOperator,
		CurrentStep:    "closing",
		CompletedSteps: []string{"greeting", "legal_mentions"},
		MissedSteps:    []string{"data_verification"},
		Timeline: []types.TimelineEntry{
			{StepID: "greeting", At: started.Add(5 * time.Second)},
			{StepID: "legal_mentions", At: started.Add(40 * time.Second)},
		},
		Sentiment:       types.SentimentPositive,
		Engagement:      80,
		SuggestionCount: 4,
	}
	if err := store.Record(ctx, report); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Recording again replaces the row.
	report.Engagement = 85
	if err := store.Record(ctx, report); err != nil {
		t.Fatalf("Record again: %v", err)
	}

	got, err := store.Get(ctx, report.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Engagement != 85 || !slices.Equal(got.CompletedSteps, report.CompletedSteps) || len(got.Timeline) != 2 {
		t.Fatalf("Get = %+v", got)
	}
	if got.Alerts == nil || len(got.Alerts) != 0 {
		t.Fatalf("Alerts = %#v, want empty", got.Alerts)
	}

	recent, err := store.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if !slices.ContainsFunc(recent, func(r types.CallReport) bool { return r.SessionID == report.SessionID }) {
		t.Fatalf("Recent does not include %s", report.SessionID)
	}

	if _, err := store.Get(ctx, "call_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v", err)
	}
}
