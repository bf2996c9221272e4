// Package streaks derives attendance continuity per person. A streak is
// a run of attendances where each pair of neighbouring dates is bridged
// only by that person's non-working days, at most three days apart.
package streaks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/store"
)

// maxBridgeDays caps how far apart two attendances may sit and still
// belong to one streak, non-working days in between or not.
const maxBridgeDays = 3

// Tracker recomputes all streaks from the attendance log and keeps the
// latest result both in memory and in the store.
type Tracker struct {
	store store.Store
	log   *slog.Logger

	mu       sync.RWMutex
	snapshot []models.Streak
}

// New wires a tracker over the given store.
func New(st store.Store, lg *slog.Logger) *Tracker {
	return &Tracker{store: st, log: lg.With(slog.String("component", "streaks"))}
}

// Refresh rebuilds every streak from scratch and persists the result.
// With streaks disabled in settings the stored rows are cleared.
func (t *Tracker) Refresh(ctx context.Context, now time.Time) error {
	started := time.Now()

	settings, err := t.store.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.EnableStreaks {
		if err := t.store.DeleteStreaks(ctx); err != nil {
			return err
		}
		t.mu.Lock()
		t.snapshot = nil
		t.mu.Unlock()
		return nil
	}

	entries, err := t.store.ListEntries(ctx, store.EntryFilter{
		Statuses: []string{models.StatusInOffice, models.StatusRemote},
	})
	if err != nil {
		return err
	}

	streaks := Compute(entries, settings, now)
	if err := t.store.ReplaceStreaks(ctx, streaks); err != nil {
		return err
	}

	t.mu.Lock()
	t.snapshot = streaks
	t.mu.Unlock()

	t.log.Info("streaks_refreshed",
		slog.Int("people", len(streaks)),
		slog.Duration("took", time.Since(started)),
	)
	return nil
}

// Streaks returns the latest computed streaks, sorted by current length
// descending then person.
func (t *Tracker) Streaks() []models.Streak {
	t.mu.RLock()
	src := t.snapshot
	t.mu.RUnlock()

	out := make([]models.Streak, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CurrentLength != out[j].CurrentLength {
			return out[i].CurrentLength > out[j].CurrentLength
		}
		return out[i].Person < out[j].Person
	})
	return out
}

// Reset clears persisted streaks and the in-memory snapshot. The next
// refresh rebuilds them from the attendance log.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.store.DeleteStreaks(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	t.snapshot = nil
	t.mu.Unlock()
	t.log.Warn("streaks reset")
	return nil
}

// Compute derives one Streak per person with at least one qualifying
// attendance. Deterministic for a fixed now.
func Compute(entries []models.AttendanceEntry, settings models.Settings, now time.Time) []models.Streak {
	// One attendance per person per day, regardless of how many entries
	// the day holds.
	byPerson := map[string]map[string]bool{}
	for _, e := range entries {
		if !e.Scores() {
			continue
		}
		if byPerson[e.Person] == nil {
			byPerson[e.Person] = map[string]bool{}
		}
		byPerson[e.Person][e.Date] = true
	}

	people := make([]string, 0, len(byPerson))
	for person := range byPerson {
		people = append(people, person)
	}
	sort.Strings(people)

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	out := make([]models.Streak, 0, len(people))
	for _, person := range people {
		dates := make([]string, 0, len(byPerson[person]))
		for d := range byPerson[person] {
			dates = append(dates, d)
		}
		sort.Strings(dates)

		working := settings.WorkingDaysFor(person)
		segments := segmentize(dates, working)
		if len(segments) == 0 {
			continue
		}

		last := &segments[len(segments)-1]
		lastEnd, err := models.ParseDate(last.End)
		if err == nil && bridges(lastEnd, today, working) {
			last.IsCurrent = true
		}

		s := models.Streak{
			Person:             person,
			LastAttendanceDate: last.End,
			History:            segments,
		}
		for _, seg := range segments {
			if seg.Length > s.MaxLength {
				s.MaxLength = seg.Length
			}
		}
		if last.IsCurrent {
			s.CurrentLength = last.Length
			s.StreakStartDate = last.Start
		}
		out = append(out, s)
	}
	return out
}

// segmentize splits sorted attendance dates into maximal bridged runs.
func segmentize(dates []string, working map[string]bool) []models.StreakSegment {
	var segments []models.StreakSegment
	var cur *models.StreakSegment
	var prev time.Time

	for _, date := range dates {
		d, err := models.ParseDate(date)
		if err != nil {
			continue
		}
		if cur != nil && bridges(prev, d, working) {
			cur.End = date
			cur.Length++
		} else {
			segments = append(segments, models.StreakSegment{Start: date, End: date, Length: 1})
			cur = &segments[len(segments)-1]
		}
		prev = d
	}
	return segments
}

// bridges reports whether the gap from a to b keeps a streak alive:
// at most maxBridgeDays apart, with only non-working days in between.
// a equal to b bridges trivially.
func bridges(a, b time.Time, working map[string]bool) bool {
	gap := int(b.Sub(a).Hours() / 24)
	if gap < 0 || gap > maxBridgeDays {
		return false
	}
	for d := a.AddDate(0, 0, 1); d.Before(b); d = d.AddDate(0, 0, 1) {
		if working[models.WeekdayKey(d)] {
			return false
		}
	}
	return true
}
