package rankings

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(person, date, at, status string) models.AttendanceEntry {
	return models.AttendanceEntry{
		ID:     person + date,
		Person: person,
		Date:   date,
		Time:   at,
		Status: status,
	}
}

func seeded(t *testing.T, entries ...models.AttendanceEntry) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	for _, e := range entries {
		if err := mem.PutEntry(context.Background(), e); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
	}
	return mem
}

func refreshed(t *testing.T, mem *store.Memory, now time.Time) *Aggregator {
	t.Helper()
	agg := New(mem, testLogger())
	if err := agg.Refresh(context.Background(), now); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return agg
}

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestExactlyOneBonusPerDay(t *testing.T) {
	// Three arrivals on one Monday: alice first, carol last.
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "08:30", models.StatusInOffice),
		entry("carol", "2025-06-02", "09:15", models.StatusInOffice),
	)
	agg := refreshed(t, mem, day("2025-06-03"))

	rows := agg.Rows(models.PeriodDaily, day("2025-06-02"), models.ModeEarlyBird)
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}

	ebWinners, liWinners := 0, 0
	for _, r := range rows {
		if r.EarlyBirdBonus > 0 {
			ebWinners++
			if r.Person != "alice" {
				t.Errorf("early-bird bonus went to %s, want alice", r.Person)
			}
			// Defaults: bonus 2 per participant, 3 participants.
			if r.EarlyBirdBonus != 6 {
				t.Errorf("early-bird bonus = %v, want 6", r.EarlyBirdBonus)
			}
		}
		if r.LastInBonus > 0 {
			liWinners++
			if r.Person != "carol" {
				t.Errorf("last-in bonus went to %s, want carol", r.Person)
			}
		}
	}
	if ebWinners != 1 || liWinners != 1 {
		t.Fatalf("bonus winners = %d early-bird, %d last-in, want 1 and 1", ebWinners, liWinners)
	}
}

func TestArrivalRankPerMode(t *testing.T) {
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "09:00", models.StatusInOffice),
	)
	agg := refreshed(t, mem, day("2025-06-03"))

	for _, r := range agg.Rows(models.PeriodDaily, day("2025-06-02"), models.ModeEarlyBird) {
		want := map[string]int{"alice": 1, "bob": 2}[r.Person]
		if r.ArrivalRank != want {
			t.Errorf("early-bird rank for %s = %d, want %d", r.Person, r.ArrivalRank, want)
		}
	}
	for _, r := range agg.Rows(models.PeriodDaily, day("2025-06-02"), models.ModeLastIn) {
		want := map[string]int{"alice": 2, "bob": 1}[r.Person]
		if r.ArrivalRank != want {
			t.Errorf("last-in rank for %s = %d, want %d", r.Person, r.ArrivalRank, want)
		}
	}
}

func TestCumulativesAreMonotonic(t *testing.T) {
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "08:30", models.StatusInOffice),
		entry("alice", "2025-06-03", "09:00", models.StatusRemote),
		entry("bob", "2025-06-03", "08:15", models.StatusInOffice),
		entry("alice", "2025-06-04", "08:10", models.StatusInOffice),
	)
	agg := refreshed(t, mem, day("2025-06-05"))

	lastEB := map[string]float64{}
	lastLI := map[string]float64{}
	for _, r := range agg.Rows(models.PeriodWeekly, day("2025-06-02"), models.ModeEarlyBird) {
		if r.EarlyBirdCumulative < lastEB[r.Person] {
			t.Fatalf("early-bird cumulative decreased for %s on %s", r.Person, r.Date)
		}
		if r.LastInCumulative < lastLI[r.Person] {
			t.Fatalf("last-in cumulative decreased for %s on %s", r.Person, r.Date)
		}
		lastEB[r.Person] = r.EarlyBirdCumulative
		lastLI[r.Person] = r.LastInCumulative
	}
}

func TestRefreshReflectsDeletes(t *testing.T) {
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "08:30", models.StatusInOffice),
	)
	agg := refreshed(t, mem, day("2025-06-03"))
	if got := len(agg.Rows(models.PeriodDaily, day("2025-06-02"), models.ModeEarlyBird)); got != 2 {
		t.Fatalf("got %d rows before delete, want 2", got)
	}

	if err := mem.DeleteEntry(context.Background(), "bob2025-06-02"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if err := agg.Refresh(context.Background(), day("2025-06-03")); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	rows := agg.Rows(models.PeriodDaily, day("2025-06-02"), models.ModeEarlyBird)
	if len(rows) != 1 || rows[0].Person != "alice" {
		t.Fatalf("rows after delete = %+v, want alice only", rows)
	}
	if rows[0].TotalParticipantsThatDay != 1 || rows[0].EarlyBirdBonus != 2 {
		t.Fatalf("bonus not recomputed: %+v", rows[0])
	}
}

func TestResolvedTieBreakerAdjustsWinner(t *testing.T) {
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "08:00", models.StatusInOffice),
	)
	// No arrival bonuses so both finish the week dead even.
	settings := models.DefaultSettings()
	settings.EarlyBirdBonus, settings.LastInBonus = 0, 0
	if err := mem.SaveSettings(context.Background(), settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	now := time.Now().UTC()
	tb := models.TieBreaker{
		ID:            "tb1",
		Period:        models.PeriodWeekly,
		PeriodStart:   "2025-06-02",
		PeriodEnd:     "2025-06-08",
		PointValue:    12,
		Mode:          models.ModeLastIn,
		Status:        models.TieBreakerCompleted,
		PointsApplied: true,
		AwardPoints:   5,
		ResolvedAt:    &now,
		Participants: []models.Participant{
			{ID: "p1", TieBreakerID: "tb1", Person: "alice", Winner: true},
			{ID: "p2", TieBreakerID: "tb1", Person: "bob"},
		},
	}
	if err := mem.CreateTieBreaker(context.Background(), tb); err != nil {
		t.Fatalf("CreateTieBreaker: %v", err)
	}
	agg := refreshed(t, mem, day("2025-06-10"))

	standings := agg.Standings(models.PeriodWeekly, day("2025-06-02"), models.ModeLastIn)
	byPerson := map[string]float64{}
	for _, s := range standings {
		byPerson[s.Person] = s.Score
	}
	if byPerson["alice"]-byPerson["bob"] != 5 {
		t.Fatalf("standings = %+v, want alice 5 points ahead", byPerson)
	}

	// Early-bird standings stay untouched by a last-in adjustment.
	eb := agg.Standings(models.PeriodWeekly, day("2025-06-02"), models.ModeEarlyBird)
	if eb[0].Score != eb[1].Score {
		t.Fatalf("early-bird standings diverged: %+v", eb)
	}
}

func TestStandingsOrderAndActiveDays(t *testing.T) {
	mem := seeded(t,
		entry("alice", "2025-06-02", "08:00", models.StatusInOffice),
		entry("bob", "2025-06-02", "09:00", models.StatusInOffice),
		entry("alice", "2025-06-03", "08:00", models.StatusInOffice),
	)
	agg := refreshed(t, mem, day("2025-06-04"))

	standings := agg.Standings(models.PeriodWeekly, day("2025-06-02"), models.ModeEarlyBird)
	if len(standings) != 2 || standings[0].Person != "alice" {
		t.Fatalf("standings = %+v, want alice first", standings)
	}
	if standings[0].ActiveDays != 2 || standings[1].ActiveDays != 1 {
		t.Fatalf("active days = %+v, want 2 and 1", standings)
	}
	if standings[0].Score <= standings[1].Score {
		t.Fatalf("order not by score: %+v", standings)
	}
}
