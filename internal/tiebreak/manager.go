// Package tiebreak owns the tie-breaker lifecycle: detecting exact
// score ties in closed windows, collecting game choices and readiness,
// running the session ladder and applying scoring effects on
// resolution. State transitions are forward-only.
package tiebreak

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattdh/officepulse/internal/game"
	"github.com/mattdh/officepulse/internal/metrics"
	"github.com/mattdh/officepulse/internal/models"
	"github.com/mattdh/officepulse/internal/rankings"
	"github.com/mattdh/officepulse/internal/store"
)

// Validation errors surfaced to callers. None of them mutate state.
var (
	ErrNotParticipant = errors.New("tiebreak: not a participant")
	ErrAlreadyChosen  = errors.New("tiebreak: game already chosen")
	ErrBadGameKind    = errors.New("tiebreak: unknown game kind")
	ErrNotPending     = errors.New("tiebreak: case is not pending")
	ErrCompleted      = errors.New("tiebreak: case already completed")
	ErrNoWinner       = errors.New("tiebreak: cannot complete without a winner")
	ErrNotYourSeat    = errors.New("tiebreak: seat belongs to another player")
	ErrAlreadyActive  = errors.New("tiebreak: session already active")
)

// SessionEvent describes a session change pushed to live subscribers.
type SessionEvent struct {
	Session models.GameSession
	Outcome game.Outcome
	// NextSessionID is set when a completed session spawned a follow-up
	// (ladder advance or draw replacement).
	NextSessionID string
}

// Manager drives tie-breaker cases. Lifecycle writes are serialized
// per case: each case has its own mutex, so one slow session never
// stalls moves on another case. Of two racing moves on the same case
// the loser gets a rejection and must resync from the broadcast state.
// Resets take the write side of gate and exclude all case work.
type Manager struct {
	store store.Store
	ranks *rankings.Aggregator
	log   *slog.Logger

	gate  sync.RWMutex
	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex

	notify func(SessionEvent)
	// randIndex picks the auto-resolve winner; swapped in tests.
	randIndex func(n int) int
}

// New wires a manager over the store and the ranking snapshot.
func New(st store.Store, ranks *rankings.Aggregator, lg *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		ranks:     ranks,
		log:       lg.With(slog.String("component", "tiebreak")),
		locks:     map[string]*sync.Mutex{},
		randIndex: rand.Intn,
	}
}

// lockCase serializes work on one case. The returned func releases
// both the case lock and the reset gate.
func (m *Manager) lockCase(id string) func() {
	m.gate.RLock()
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.mu.Unlock()
	l.Lock()
	return func() {
		l.Unlock()
		m.gate.RUnlock()
	}
}

// SetNotifier registers the live gateway callback. Call before serving.
func (m *Manager) SetNotifier(fn func(SessionEvent)) { m.notify = fn }

func (m *Manager) emit(ev SessionEvent) {
	if m.notify != nil {
		m.notify(ev)
	}
}

// ========================= detection =========================

// Detect scans every closed weekly/monthly window for exact score ties
// among fully-attending participants and opens a pending case per new
// (period, window, score, mode) key. Idempotent: existing keys are
// skipped regardless of status.
func (m *Manager) Detect(ctx context.Context, now time.Time) error {
	m.gate.RLock()
	defer m.gate.RUnlock()

	settings, err := m.store.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.EnableTieBreakers {
		return nil
	}

	existing, err := m.store.ListTieBreakers(ctx, "")
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, tb := range existing {
		seen[tb.Key()] = true
	}

	entries, err := m.store.ListEntries(ctx, store.EntryFilter{
		Statuses: []string{models.StatusInOffice, models.StatusRemote},
	})
	if err != nil {
		return err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	created := 0

	periods := []models.Period{}
	if settings.TieBreakerWeekly {
		periods = append(periods, models.PeriodWeekly)
	}
	if settings.TieBreakerMonthly {
		periods = append(periods, models.PeriodMonthly)
	}

	for _, period := range periods {
		for _, startStr := range m.ranks.WindowStarts(period) {
			start, err := models.ParseDate(startStr)
			if err != nil {
				continue
			}
			_, end := period.Window(start)
			if !end.Before(today) {
				continue // window still open
			}
			qualified := fullAttendance(entries, settings, start, end)

			for _, mode := range []string{models.ModeEarlyBird, models.ModeLastIn} {
				standings := m.ranks.Standings(period, start, mode)
				for _, group := range tieGroups(standings, qualified) {
					tb := models.TieBreaker{
						ID:          uuid.NewString(),
						Period:      period,
						PeriodStart: start.Format(models.DateLayout),
						PeriodEnd:   end.Format(models.DateLayout),
						PointValue:  group.score,
						Mode:        mode,
						Status:      models.TieBreakerPending,
					}
					if seen[tb.Key()] {
						continue
					}
					for _, person := range group.people {
						tb.Participants = append(tb.Participants, models.Participant{
							ID:           uuid.NewString(),
							TieBreakerID: tb.ID,
							Person:       person,
						})
					}
					if err := m.store.CreateTieBreaker(ctx, tb); err != nil {
						return err
					}
					seen[tb.Key()] = true
					created++
					m.log.Info("tie_detected",
						slog.String("period", string(period)),
						slog.String("window", tb.PeriodStart),
						slog.String("mode", mode),
						slog.Float64("score", group.score),
						slog.Int("participants", len(group.people)),
					)
				}
			}
		}
	}
	open := created
	for _, tb := range existing {
		if tb.Status != models.TieBreakerCompleted {
			open++
		}
	}
	metrics.TieBreakersOpen.Set(float64(open))

	if created > 0 {
		m.log.Info("detection_done", slog.Int("created", created))
	}
	return nil
}

type tieGroup struct {
	score  float64
	people []string
}

// tieGroups buckets qualified people by exact final score; groups of
// one, or at zero points, are not ties.
func tieGroups(standings []rankings.Standing, qualified map[string]bool) []tieGroup {
	byScore := map[string][]string{}
	scores := map[string]float64{}
	for _, s := range standings {
		if s.Score <= 0 || !qualified[s.Person] {
			continue
		}
		k := fmt.Sprintf("%.4f", s.Score)
		byScore[k] = append(byScore[k], s.Person)
		scores[k] = s.Score
	}

	keys := make([]string, 0, len(byScore))
	for k, people := range byScore {
		if len(people) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]tieGroup, 0, len(keys))
	for _, k := range keys {
		people := byScore[k]
		sort.Strings(people)
		out = append(out, tieGroup{score: scores[k], people: people})
	}
	return out
}

// fullAttendance returns the set of people with a qualifying entry on
// every one of their working days inside [start, end].
func fullAttendance(entries []models.AttendanceEntry, settings models.Settings, start, end time.Time) map[string]bool {
	from, to := start.Format(models.DateLayout), end.Format(models.DateLayout)
	attended := map[string]map[string]bool{}
	for _, e := range entries {
		if !e.Scores() || e.Date < from || e.Date > to {
			continue
		}
		if attended[e.Person] == nil {
			attended[e.Person] = map[string]bool{}
		}
		attended[e.Person][e.Date] = true
	}

	out := map[string]bool{}
	for person, days := range attended {
		working := settings.WorkingDaysFor(person)
		full := true
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if working[models.WeekdayKey(d)] && !days[d.Format(models.DateLayout)] {
				full = false
				break
			}
		}
		if full {
			out[person] = true
		}
	}
	return out
}

// ========================= readiness =========================

// ChooseGame records a participant's game pick and marks them ready.
// Once every participant is ready the case moves to in_progress and the
// first ladder session is created.
func (m *Manager) ChooseGame(ctx context.Context, tieBreakerID, person, kind string) (models.TieBreaker, error) {
	if !models.ValidGameKind(kind) {
		return models.TieBreaker{}, ErrBadGameKind
	}
	unlock := m.lockCase(tieBreakerID)
	defer unlock()

	tb, err := m.store.GetTieBreaker(ctx, tieBreakerID)
	if err != nil {
		return models.TieBreaker{}, err
	}
	if tb.Status != models.TieBreakerPending {
		return models.TieBreaker{}, ErrNotPending
	}

	idx := -1
	for i, p := range tb.Participants {
		if p.Person == person {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.TieBreaker{}, ErrNotParticipant
	}
	if tb.Participants[idx].GameChoice != "" {
		return models.TieBreaker{}, ErrAlreadyChosen
	}

	tb.Participants[idx].GameChoice = kind
	tb.Participants[idx].Ready = true
	if err := m.store.UpdateParticipant(ctx, tb.Participants[idx]); err != nil {
		return models.TieBreaker{}, err
	}

	allReady := true
	for _, p := range tb.Participants {
		if p.GameChoice == "" || !p.Ready {
			allReady = false
			break
		}
	}
	if allReady {
		if err := m.start(ctx, &tb); err != nil {
			return models.TieBreaker{}, err
		}
	}
	return m.store.GetTieBreaker(ctx, tieBreakerID)
}

// start moves a fully-ready case to in_progress and opens the first
// ladder session. Pairing is alphabetical; with exactly two tied people
// the first session is already the final decider.
func (m *Manager) start(ctx context.Context, tb *models.TieBreaker) error {
	people := make([]string, 0, len(tb.Participants))
	choice := map[string]string{}
	for _, p := range tb.Participants {
		people = append(people, p.Person)
		choice[p.Person] = p.GameChoice
	}
	sort.Strings(people)

	tb.Status = models.TieBreakerInProgress
	if err := m.store.UpdateTieBreaker(ctx, *tb); err != nil {
		return err
	}

	s := newSession(tb.ID, people[0], people[1], choice[people[0]])
	s.IsFinalTiebreaker = len(people) == 2
	return m.store.CreateSession(ctx, s)
}

func newSession(tieBreakerID, player1, player2, kind string) models.GameSession {
	k, err := game.ForKind(kind)
	if err != nil {
		k = game.TicTacToe{}
	}
	return models.GameSession{
		ID:           uuid.NewString(),
		TieBreakerID: tieBreakerID,
		Kind:         k.Name(),
		Player1:      player1,
		Player2:      player2,
		Status:       models.SessionPending,
		Board:        game.NewBoard(k),
		CurrentTurn:  player1,
	}
}

// ========================= sessions =========================

// JoinGame activates a pending session. Only the seated second player
// may join; player1 is seated at creation.
func (m *Manager) JoinGame(ctx context.Context, gameID, person string) (models.GameSession, error) {
	s, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return models.GameSession{}, err
	}
	unlock := m.lockCase(s.TieBreakerID)
	defer unlock()

	// Reread under the case lock; the first read only located the case.
	s, err = m.store.GetSession(ctx, gameID)
	if err != nil {
		return models.GameSession{}, err
	}
	if s.Status != models.SessionPending {
		return models.GameSession{}, ErrAlreadyActive
	}
	if person != s.Player2 {
		return models.GameSession{}, ErrNotYourSeat
	}

	s.Status = models.SessionActive
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return models.GameSession{}, err
	}
	m.emit(SessionEvent{Session: s})
	return s, nil
}

// SubmitMove validates and applies one move, persists the session and
// drives ladder progression when the game finishes. Rejected moves
// leave all state untouched.
func (m *Manager) SubmitMove(ctx context.Context, gameID, person string, move int) (models.GameSession, game.Outcome, error) {
	s, err := m.store.GetSession(ctx, gameID)
	if err != nil {
		return models.GameSession{}, game.Outcome{}, err
	}
	unlock := m.lockCase(s.TieBreakerID)
	defer unlock()

	// Reread under the case lock; the first read only located the case.
	s, err = m.store.GetSession(ctx, gameID)
	if err != nil {
		return models.GameSession{}, game.Outcome{}, err
	}
	out, err := game.ApplyMove(&s, person, move)
	if err != nil {
		return models.GameSession{}, game.Outcome{}, err
	}
	if s.Status == models.SessionCompleted {
		now := time.Now().UTC()
		s.CompletedAt = &now
	}
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return models.GameSession{}, game.Outcome{}, err
	}

	ev := SessionEvent{Session: s, Outcome: out}
	if s.Status == models.SessionCompleted {
		nextID, err := m.advance(ctx, s, out)
		if err != nil {
			return models.GameSession{}, game.Outcome{}, err
		}
		ev.NextSessionID = nextID
	}
	m.emit(ev)
	return s, out, nil
}

// advance handles a finished session: a draw spawns a replacement with
// seats reversed; a win either resolves the case (final session) or
// opens the next ladder game, winner staying on.
func (m *Manager) advance(ctx context.Context, s models.GameSession, out game.Outcome) (string, error) {
	tb, err := m.store.GetTieBreaker(ctx, s.TieBreakerID)
	if err != nil {
		return "", err
	}

	if out.Result == game.Draw {
		replay := newSession(tb.ID, s.Player2, s.Player1, s.Kind)
		replay.IsFinalTiebreaker = s.IsFinalTiebreaker
		replay.Status = models.SessionActive // both seats already joined once
		if err := m.store.CreateSession(ctx, replay); err != nil {
			return "", err
		}
		return replay.ID, nil
	}

	if s.IsFinalTiebreaker {
		return "", m.resolve(ctx, tb, out.Winner)
	}

	waiting := queued(tb)
	if len(waiting) == 0 {
		// Ladder exhausted without a designated final game; the last
		// win decides.
		return "", m.resolve(ctx, tb, out.Winner)
	}
	ladder := newSession(tb.ID, out.Winner, waiting[0], choiceOf(tb, out.Winner))
	ladder.IsFinalTiebreaker = len(waiting) == 1
	if err := m.store.CreateSession(ctx, ladder); err != nil {
		return "", err
	}
	return ladder.ID, nil
}

// queued lists participants who have not played any session yet,
// alphabetically. The front of the queue is the next challenger.
func queued(tb models.TieBreaker) []string {
	played := map[string]bool{}
	for _, g := range tb.Games {
		played[g.Player1], played[g.Player2] = true, true
	}
	people := []string{}
	for _, p := range tb.Participants {
		if !played[p.Person] {
			people = append(people, p.Person)
		}
	}
	sort.Strings(people)
	return people
}

func choiceOf(tb models.TieBreaker, person string) string {
	for _, p := range tb.Participants {
		if p.Person == person {
			return p.GameChoice
		}
	}
	return ""
}

// ========================= resolution =========================

// resolve completes a case: flags the winning participant, stamps
// resolvedAt and applies the configured award exactly once. Completing
// an already-completed case or resolving without a winner fails.
func (m *Manager) resolve(ctx context.Context, tb models.TieBreaker, winner string) error {
	if tb.Status == models.TieBreakerCompleted {
		return ErrCompleted
	}
	if winner == "" {
		return ErrNoWinner
	}
	found := false
	for _, p := range tb.Participants {
		if p.Person == winner {
			found = true
			break
		}
	}
	if !found {
		return ErrNotParticipant
	}

	settings, err := m.store.Settings(ctx)
	if err != nil {
		return err
	}

	for _, p := range tb.Participants {
		won := p.Person == winner
		if p.Winner == won {
			continue
		}
		p.Winner = won
		if err := m.store.UpdateParticipant(ctx, p); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	tb.Status = models.TieBreakerCompleted
	tb.ResolvedAt = &now
	if !tb.PointsApplied {
		tb.PointsApplied = true
		tb.AwardPoints = settings.TieBreakerPoints
	}
	if err := m.store.UpdateTieBreaker(ctx, tb); err != nil {
		return err
	}
	m.log.Info("tiebreaker_resolved",
		slog.String("id", tb.ID),
		slog.String("mode", tb.Mode),
		slog.String("winner", winner),
		slog.Float64("award", tb.AwardPoints),
	)
	return nil
}

// ExpireStale auto-resolves pending cases older than the configured
// expiry by picking a uniformly random participant, when enabled.
// Disabled, stale cases stay pending for manual handling.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) error {
	settings, err := m.store.Settings(ctx)
	if err != nil {
		return err
	}
	if !settings.AutoResolveTieBreaker {
		return nil
	}
	cutoff := now.Add(-time.Duration(settings.TieBreakerExpiryHours) * time.Hour)

	all, err := m.store.ListTieBreakers(ctx, "")
	if err != nil {
		return err
	}
	for _, tb := range all {
		if tb.Status != models.TieBreakerPending || !tb.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.expireOne(ctx, tb.ID, cutoff); err != nil {
			return err
		}
	}
	return nil
}

// expireOne rereads the case under its lock; a racing ChooseGame may
// have started it since the scan.
func (m *Manager) expireOne(ctx context.Context, id string, cutoff time.Time) error {
	unlock := m.lockCase(id)
	defer unlock()

	tb, err := m.store.GetTieBreaker(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if tb.Status != models.TieBreakerPending || !tb.CreatedAt.Before(cutoff) || len(tb.Participants) == 0 {
		return nil
	}
	winner := tb.Participants[m.randIndex(len(tb.Participants))].Person
	if err := m.resolve(ctx, tb, winner); err != nil {
		return err
	}
	m.log.Info("tiebreaker_expired", slog.String("id", tb.ID), slog.String("winner", winner))
	return nil
}

// ========================= queries and resets =========================

// List returns cases with nested participants and games, optionally
// filtered by mode.
func (m *Manager) List(ctx context.Context, mode string) ([]models.TieBreaker, error) {
	return m.store.ListTieBreakers(ctx, mode)
}

// Get returns one case by id.
func (m *Manager) Get(ctx context.Context, id string) (models.TieBreaker, error) {
	return m.store.GetTieBreaker(ctx, id)
}

// Session returns one game session by id.
func (m *Manager) Session(ctx context.Context, id string) (models.GameSession, error) {
	return m.store.GetSession(ctx, id)
}

// ResetAll deletes every case with its participants and sessions so the
// next detection pass can regenerate them. All-or-nothing.
func (m *Manager) ResetAll(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	m.mu.Lock()
	m.locks = map[string]*sync.Mutex{}
	m.mu.Unlock()

	m.log.Warn("resetting all tiebreakers")
	return m.store.DeleteAllTieBreakers(ctx)
}

// ResetEffects reverts the scoring effects of resolved cases and
// reopens them for replay: status back to pending, award cleared,
// participant readiness wiped, sessions deleted. History (the case and
// its participants) is preserved.
func (m *Manager) ResetEffects(ctx context.Context) error {
	m.gate.Lock()
	defer m.gate.Unlock()

	all, err := m.store.ListTieBreakers(ctx, "")
	if err != nil {
		return err
	}
	reset := 0
	for _, tb := range all {
		if tb.Status != models.TieBreakerCompleted {
			continue
		}
		for _, p := range tb.Participants {
			p.GameChoice, p.Ready, p.Winner = "", false, false
			if err := m.store.UpdateParticipant(ctx, p); err != nil {
				return err
			}
		}
		if err := m.store.DeleteSessionsFor(ctx, tb.ID); err != nil {
			return err
		}
		tb.Status = models.TieBreakerPending
		tb.PointsApplied = false
		tb.AwardPoints = 0
		tb.ResolvedAt = nil
		if err := m.store.UpdateTieBreaker(ctx, tb); err != nil {
			return err
		}
		reset++
	}
	m.log.Warn("tiebreaker effects reset", slog.Int("cases", reset))
	return nil
}
