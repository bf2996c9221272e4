package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattdh/officepulse/internal/models"
)

// Memory is a mutex-guarded in-memory Store. All returned values are
// deep copies; callers never share slices or maps with the store.
type Memory struct {
	mu           sync.RWMutex
	entries      map[string]models.AttendanceEntry
	settings     models.Settings
	streaks      map[string]models.Streak
	tieBreakers  map[string]models.TieBreaker // participants/games kept separately
	participants map[string]models.Participant
	sessions     map[string]models.GameSession
}

// NewMemory returns an empty in-memory store seeded with default
// settings.
func NewMemory() *Memory {
	return &Memory{
		entries:      map[string]models.AttendanceEntry{},
		settings:     models.DefaultSettings(),
		streaks:      map[string]models.Streak{},
		tieBreakers:  map[string]models.TieBreaker{},
		participants: map[string]models.Participant{},
		sessions:     map[string]models.GameSession{},
	}
}

var _ Store = (*Memory)(nil)

// ----------------- attendance -----------------

func (m *Memory) ListEntries(_ context.Context, f EntryFilter) ([]models.AttendanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	people := toSet(f.People)
	statuses := toSet(f.Statuses)

	out := make([]models.AttendanceEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if f.DateFrom != "" && e.Date < f.DateFrom {
			continue
		}
		if f.DateTo != "" && e.Date > f.DateTo {
			continue
		}
		if len(people) > 0 && !people[e.Person] {
			continue
		}
		if len(statuses) > 0 && !statuses[e.Status] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Person < out[j].Person
	})
	return out, nil
}

func (m *Memory) PutEntry(_ context.Context, e models.AttendanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// ----------------- settings -----------------

func (m *Memory) Settings(_ context.Context) (models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySettings(m.settings), nil
}

func (m *Memory) SaveSettings(_ context.Context, s models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = copySettings(s)
	return nil
}

// ----------------- streaks -----------------

func (m *Memory) ReplaceStreaks(_ context.Context, streaks []models.Streak) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks = make(map[string]models.Streak, len(streaks))
	for _, s := range streaks {
		m.streaks[s.Person] = copyStreak(s)
	}
	return nil
}

func (m *Memory) ListStreaks(_ context.Context) ([]models.Streak, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Streak, 0, len(m.streaks))
	for _, s := range m.streaks {
		out = append(out, copyStreak(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Person < out[j].Person })
	return out, nil
}

func (m *Memory) DeleteStreaks(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaks = map[string]models.Streak{}
	return nil
}

// ----------------- tie-breakers -----------------

func (m *Memory) ListTieBreakers(_ context.Context, mode string) ([]models.TieBreaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TieBreaker, 0, len(m.tieBreakers))
	for id, tb := range m.tieBreakers {
		if mode != "" && tb.Mode != mode {
			continue
		}
		out = append(out, m.assembleLocked(id))
	}
	// Active cases first, then newest.
	rank := func(s string) int {
		switch s {
		case models.TieBreakerInProgress:
			return 0
		case models.TieBreakerPending:
			return 1
		default:
			return 2
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := rank(out[i].Status), rank(out[j].Status); ri != rj {
			return ri < rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetTieBreaker(_ context.Context, id string) (models.TieBreaker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tieBreakers[id]; !ok {
		return models.TieBreaker{}, ErrNotFound
	}
	return m.assembleLocked(id), nil
}

func (m *Memory) CreateTieBreaker(_ context.Context, tb models.TieBreaker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tb.ID == "" {
		tb.ID = uuid.NewString()
	}
	if _, ok := m.tieBreakers[tb.ID]; ok {
		return ErrConflict
	}
	if tb.CreatedAt.IsZero() {
		tb.CreatedAt = time.Now().UTC()
	}
	for i := range tb.Participants {
		p := tb.Participants[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.TieBreakerID = tb.ID
		m.participants[p.ID] = p
	}
	bare := tb
	bare.Participants, bare.Games = nil, nil
	m.tieBreakers[tb.ID] = bare
	return nil
}

func (m *Memory) UpdateTieBreaker(_ context.Context, tb models.TieBreaker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tieBreakers[tb.ID]; !ok {
		return ErrNotFound
	}
	bare := tb
	bare.Participants, bare.Games = nil, nil
	m.tieBreakers[tb.ID] = bare
	return nil
}

func (m *Memory) UpdateParticipant(_ context.Context, p models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[p.ID]; !ok {
		return ErrNotFound
	}
	m.participants[p.ID] = p
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (models.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.GameSession{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *Memory) CreateSession(_ context.Context, s models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s models.GameSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *Memory) DeleteAllTieBreakers(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tieBreakers = map[string]models.TieBreaker{}
	m.participants = map[string]models.Participant{}
	m.sessions = map[string]models.GameSession{}
	return nil
}

func (m *Memory) DeleteSessionsFor(_ context.Context, tieBreakerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.TieBreakerID == tieBreakerID {
			delete(m.sessions, id)
		}
	}
	return nil
}

// assembleLocked builds a deep copy of a case with nested participants
// and sessions. Caller holds at least a read lock.
func (m *Memory) assembleLocked(id string) models.TieBreaker {
	tb := m.tieBreakers[id]
	for _, p := range m.participants {
		if p.TieBreakerID == id {
			tb.Participants = append(tb.Participants, p)
		}
	}
	sort.Slice(tb.Participants, func(i, j int) bool {
		return tb.Participants[i].Person < tb.Participants[j].Person
	})
	for _, s := range m.sessions {
		if s.TieBreakerID == id {
			tb.Games = append(tb.Games, copySession(s))
		}
	}
	sort.Slice(tb.Games, func(i, j int) bool {
		if !tb.Games[i].CreatedAt.Equal(tb.Games[j].CreatedAt) {
			return tb.Games[i].CreatedAt.Before(tb.Games[j].CreatedAt)
		}
		return tb.Games[i].ID < tb.Games[j].ID
	})
	return tb
}

// ----------------- copies -----------------

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

func copySettings(s models.Settings) models.Settings {
	out := s
	out.Points = make(map[string]float64, len(s.Points))
	for k, v := range s.Points {
		out.Points[k] = v
	}
	out.WorkingDays = make(map[string][]string, len(s.WorkingDays))
	for k, v := range s.WorkingDays {
		out.WorkingDays[k] = append([]string(nil), v...)
	}
	return out
}

func copyStreak(s models.Streak) models.Streak {
	out := s
	out.History = append([]models.StreakSegment(nil), s.History...)
	return out
}

func copySession(s models.GameSession) models.GameSession {
	out := s
	out.Board = append([]string(nil), s.Board...)
	return out
}
