// Package store owns persistence for the attendance log, settings and
// tie-breaker state. Two implementations exist: an in-memory store used
// for tests and single-node dev setups, and a Postgres store for real
// deployments. Derived ranking snapshots are NOT stored here; they are
// recomputed from the log on every aggregation run.
package store

import (
	"context"
	"errors"

	"github.com/mattdh/officepulse/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a create collides with an existing
	// row, the losing side of two racing writers.
	ErrConflict = errors.New("store: conflicting write")
)

// EntryFilter narrows ListEntries. Zero values mean "no constraint".
type EntryFilter struct {
	DateFrom string // inclusive, YYYY-MM-DD
	DateTo   string // inclusive
	People   []string
	Statuses []string
}

// AttendanceStore reads the append-ish attendance log. Writes are owned
// by the presentation layer but routed through the same store so edits
// and deletes can invalidate cached aggregates.
type AttendanceStore interface {
	ListEntries(ctx context.Context, f EntryFilter) ([]models.AttendanceEntry, error)
	PutEntry(ctx context.Context, e models.AttendanceEntry) error
	DeleteEntry(ctx context.Context, id string) error
}

// SettingsStore reads and writes the single settings row.
type SettingsStore interface {
	Settings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
}

// StreakStore persists derived streaks between aggregation runs.
type StreakStore interface {
	ReplaceStreaks(ctx context.Context, streaks []models.Streak) error
	ListStreaks(ctx context.Context) ([]models.Streak, error)
	DeleteStreaks(ctx context.Context) error
}

// TieBreakerStore persists tie-breaker cases, their participants and
// game sessions.
type TieBreakerStore interface {
	ListTieBreakers(ctx context.Context, mode string) ([]models.TieBreaker, error)
	GetTieBreaker(ctx context.Context, id string) (models.TieBreaker, error)
	CreateTieBreaker(ctx context.Context, tb models.TieBreaker) error
	UpdateTieBreaker(ctx context.Context, tb models.TieBreaker) error
	UpdateParticipant(ctx context.Context, p models.Participant) error

	GetSession(ctx context.Context, id string) (models.GameSession, error)
	CreateSession(ctx context.Context, s models.GameSession) error
	UpdateSession(ctx context.Context, s models.GameSession) error

	// DeleteAllTieBreakers removes every case with participants and
	// sessions (administrative reset; all-or-nothing).
	DeleteAllTieBreakers(ctx context.Context) error
	// DeleteSessionsFor removes the sessions of one case (effects
	// reset keeps the case itself).
	DeleteSessionsFor(ctx context.Context, tieBreakerID string) error
}

// Store is the full persistence surface the core needs.
type Store interface {
	AttendanceStore
	SettingsStore
	StreakStore
	TieBreakerStore
}
