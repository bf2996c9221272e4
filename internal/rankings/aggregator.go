// Package rankings derives ranked, time-windowed scores from the raw
// attendance log. Recomputation is total: every refresh rebuilds every
// window from scratch, so late edits and deletes are always reflected.
// Queries read an immutable snapshot swapped in atomically per refresh.
package rankings

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/store"
)

type windowKey struct {
	Period models.Period
	Start  string
}

// Standing is one person's final position within a window.
type Standing struct {
	Person     string  `json:"person"`
	Score      float64 `json:"score"`
	ActiveDays int     `json:"active_days"`
}

// Aggregator owns the derived ranking snapshot. Safe for concurrent
// use: refreshes happen on the periodic job goroutine, queries anywhere.
type Aggregator struct {
	store store.Store
	log   *slog.Logger

	mu        sync.RWMutex
	rows      map[windowKey][]models.RankingRow
	lastStamp time.Time
}

// New wires an aggregator over the given store.
func New(st store.Store, lg *slog.Logger) *Aggregator {
	return &Aggregator{
		store: st,
		log:   lg.With(slog.String("component", "rankings")),
		rows:  map[windowKey][]models.RankingRow{},
	}
}

// Refresh recomputes every window from the attendance log and swaps the
// snapshot. On error the previous snapshot stays intact.
func (a *Aggregator) Refresh(ctx context.Context, now time.Time) error {
	started := time.Now()

	entries, err := a.store.ListEntries(ctx, store.EntryFilter{
		Statuses: []string{models.StatusInOffice, models.StatusRemote},
	})
	if err != nil {
		return err
	}
	settings, err := a.store.Settings(ctx)
	if err != nil {
		return err
	}
	tieBreakers, err := a.store.ListTieBreakers(ctx, "")
	if err != nil {
		return err
	}

	rows := compute(entries, settings)
	applyTieBreakerAdjustments(rows, tieBreakers)

	a.mu.Lock()
	a.rows = rows
	a.lastStamp = now
	a.mu.Unlock()

	a.log.Info("rankings_refreshed",
		slog.Int("entries", len(entries)),
		slog.Int("windows", len(rows)),
		slog.Duration("took", time.Since(started)),
	)
	return nil
}

// compute builds all window rows from qualifying entries. Deterministic:
// same log and settings always produce identical output.
func compute(entries []models.AttendanceEntry, settings models.Settings) map[windowKey][]models.RankingRow {
	// Group by calendar day; entries arrive date/time/person sorted
	// from the store, re-sorted defensively here.
	byDate := map[string][]models.AttendanceEntry{}
	dates := []string{}
	for _, e := range entries {
		if !e.Scores() {
			continue
		}
		if settings.MonitoringStartDate != "" && e.Date < settings.MonitoringStartDate {
			continue
		}
		if _, ok := byDate[e.Date]; !ok {
			dates = append(dates, e.Date)
		}
		byDate[e.Date] = append(byDate[e.Date], e)
	}
	sort.Strings(dates)

	rows := map[windowKey][]models.RankingRow{}
	for _, date := range dates {
		day := byDate[date]
		sort.Slice(day, func(i, j int) bool {
			if day[i].Time != day[j].Time {
				return day[i].Time < day[j].Time
			}
			return day[i].Person < day[j].Person
		})

		d, err := models.ParseDate(date)
		if err != nil {
			continue
		}
		n := len(day)
		for pos, e := range day {
			position := pos + 1
			base := settings.Points[e.Status]

			var ebBonus, liBonus float64
			if position == 1 {
				ebBonus = float64(n) * settings.EarlyBirdBonus
			}
			if position == n {
				liBonus = float64(n) * settings.LastInBonus
			}

			for _, period := range []models.Period{models.PeriodDaily, models.PeriodWeekly, models.PeriodMonthly} {
				start, end := period.Window(d)
				key := windowKey{Period: period, Start: start.Format(models.DateLayout)}
				rows[key] = append(rows[key], models.RankingRow{
					Person:                   e.Person,
					Period:                   period,
					Start:                    start.Format(models.DateLayout),
					End:                      end.Format(models.DateLayout),
					Date:                     date,
					BasePoints:               base,
					EarlyBirdBonus:           ebBonus,
					LastInBonus:              liBonus,
					Position:                 position,
					TotalParticipantsThatDay: n,
				})
			}
		}
	}

	// Running sums per person within each window, in date order. The
	// date-major append order above already yields ascending dates.
	for key, windowRows := range rows {
		cumEB := map[string]float64{}
		cumLI := map[string]float64{}
		for i := range windowRows {
			r := &windowRows[i]
			cumEB[r.Person] += r.BasePoints + r.EarlyBirdBonus
			cumLI[r.Person] += r.BasePoints + r.LastInBonus
			r.EarlyBirdCumulative = cumEB[r.Person]
			r.LastInCumulative = cumLI[r.Person]
		}
		rows[key] = windowRows
	}
	return rows
}

// applyTieBreakerAdjustments adds each resolved tie-breaker's point
// value once to the winner's final cumulative in the affected window.
func applyTieBreakerAdjustments(rows map[windowKey][]models.RankingRow, tieBreakers []models.TieBreaker) {
	for _, tb := range tieBreakers {
		if tb.Status != models.TieBreakerCompleted || !tb.PointsApplied {
			continue
		}
		winner := ""
		for _, p := range tb.Participants {
			if p.Winner {
				winner = p.Person
				break
			}
		}
		if winner == "" {
			continue
		}
		key := windowKey{Period: tb.Period, Start: tb.PeriodStart}
		windowRows := rows[key]
		// Last row belonging to the winner carries the adjustment, so
		// cumulative columns stay non-decreasing.
		for i := len(windowRows) - 1; i >= 0; i-- {
			if windowRows[i].Person != winner {
				continue
			}
			switch tb.Mode {
			case models.ModeEarlyBird:
				windowRows[i].EarlyBirdCumulative += tb.AwardPoints
			case models.ModeLastIn:
				windowRows[i].LastInCumulative += tb.AwardPoints
			}
			break
		}
	}
}

// Rows returns the snapshot rows for the window containing windowDate,
// with ArrivalRank resolved for the requested mode. Rows are ordered by
// date then arrival position.
func (a *Aggregator) Rows(period models.Period, windowDate time.Time, mode string) []models.RankingRow {
	start, _ := period.Window(windowDate)
	key := windowKey{Period: period, Start: start.Format(models.DateLayout)}

	a.mu.RLock()
	src := a.rows[key]
	a.mu.RUnlock()

	out := make([]models.RankingRow, len(src))
	copy(out, src)
	for i := range out {
		if mode == models.ModeLastIn {
			out[i].ArrivalRank = out[i].TotalParticipantsThatDay + 1 - out[i].Position
		} else {
			out[i].ArrivalRank = out[i].Position
		}
	}
	return out
}

// Standings reduces a window to final per-person scores for one mode,
// highest first (ties broken by name for stable output).
func (a *Aggregator) Standings(period models.Period, windowDate time.Time, mode string) []Standing {
	rows := a.Rows(period, windowDate, mode)

	final := map[string]Standing{}
	order := []string{}
	for _, r := range rows {
		s, ok := final[r.Person]
		if !ok {
			order = append(order, r.Person)
			s = Standing{Person: r.Person}
		}
		if mode == models.ModeLastIn {
			s.Score = r.LastInCumulative
		} else {
			s.Score = r.EarlyBirdCumulative
		}
		s.ActiveDays++
		final[r.Person] = s
	}

	out := make([]Standing, 0, len(order))
	for _, person := range order {
		out = append(out, final[person])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Person < out[j].Person
	})
	return out
}

// WindowStarts lists the start dates of every known window for a
// period, ascending.
func (a *Aggregator) WindowStarts(period models.Period) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := []string{}
	for key := range a.rows {
		if key.Period == period {
			out = append(out, key.Start)
		}
	}
	sort.Strings(out)
	return out
}

// LastGeneratedAt exposes the timestamp of the latest refresh.
func (a *Aggregator) LastGeneratedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastStamp
}
