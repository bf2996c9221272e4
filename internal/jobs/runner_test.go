package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
	"github.com/mattdh/officepulse/internal/streaks"
	"github.com/mattdh/officepulse/internal/tiebreak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePipeline(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	settings := models.DefaultSettings()
	settings.EarlyBirdBonus, settings.LastInBonus = 0, 0
	settings.WorkingDays = map[string][]string{
		"alice": {"mon"},
		"bob":   {"mon"},
	}
	if err := mem.SaveSettings(ctx, settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	for _, e := range []models.AttendanceEntry{
		{ID: "a", Person: "alice", Date: "2025-06-02", Time: "08:00", Status: models.StatusInOffice},
		{ID: "b", Person: "bob", Date: "2025-06-02", Time: "08:30", Status: models.StatusInOffice},
	} {
		if err := mem.PutEntry(ctx, e); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
	}

	ranks := rankings.New(mem, testLogger())
	tracker := streaks.New(mem, testLogger())
	ties := tiebreak.New(mem, ranks, testLogger())
	runner := New(ranks, tracker, ties, time.Minute, testLogger())

	now, _ := models.ParseDate("2025-06-10")
	runner.RunOnce(ctx, now)

	// Rankings landed.
	standings := ranks.Standings(models.PeriodWeekly, now.AddDate(0, 0, -7), models.ModeEarlyBird)
	if len(standings) != 2 {
		t.Fatalf("got %d standings, want 2", len(standings))
	}
	// Streaks landed and were persisted.
	persisted, err := mem.ListStreaks(ctx)
	if err != nil {
		t.Fatalf("ListStreaks: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("got %d persisted streaks, want 2", len(persisted))
	}
	// Tie detection ran against the fresh snapshot.
	cases, err := ties.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cases) == 0 {
		t.Fatal("no tie-breaker detected for the tied closed week")
	}

	// A second pass changes nothing.
	runner.RunOnce(ctx, now)
	again, err := ties.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(again) != len(cases) {
		t.Fatalf("cases went %d -> %d across identical runs", len(cases), len(again))
	}
}

func TestKickCoalesces(t *testing.T) {
	r := &Runner{kick: make(chan struct{}, 1)}
	r.Kick()
	r.Kick() // must not block
	select {
	case <-r.kick:
	default:
		t.Fatal("kick channel empty after Kick")
	}
	select {
	case <-r.kick:
		t.Fatal("kick queued more than one pending request")
	default:
	}
}
