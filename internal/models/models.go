package models

import (
	"fmt"
	"time"
)

// ========================= Attendance =========================

// Statuses accepted in the attendance log. Only in-office and remote
// earn points or extend streaks.
const (
	StatusInOffice = "in-office"
	StatusRemote   = "remote"
	StatusSick     = "sick"
	StatusLeave    = "leave"
)

// DateLayout and TimeLayout match the wire format used by the
// attendance log ("2025-01-31", "08:45").
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// AttendanceEntry is one logged status for one person on one day.
type AttendanceEntry struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Person    string    `json:"person" gorm:"column:person;index"`
	Date      string    `json:"date" gorm:"column:date;index"`
	Time      string    `json:"time" gorm:"column:time"`
	Status    string    `json:"status" gorm:"column:status"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (AttendanceEntry) TableName() string { return "entries" }

// Scores checks whether the entry earns points / extends streaks.
func (e AttendanceEntry) Scores() bool {
	return e.Status == StatusInOffice || e.Status == StatusRemote
}

// ValidStatus reports whether s is one of the four accepted statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusInOffice, StatusRemote, StatusSick, StatusLeave:
		return true
	}
	return false
}

// ========================= Periods =========================

// Period tags a closed calendar window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Valid reports whether p is a known period tag.
func (p Period) Valid() bool {
	return p == PeriodDaily || p == PeriodWeekly || p == PeriodMonthly
}

// Window derives the closed [start, end] interval containing d.
// Weeks start Monday, months start on the 1st.
func (p Period) Window(d time.Time) (start, end time.Time) {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		// Weekday() is Sunday=0; shift so Monday=0.
		offset := (int(d.Weekday()) + 6) % 7
		start = d.AddDate(0, 0, -offset)
		end = start.AddDate(0, 0, 6)
	case PeriodMonthly:
		start = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
	default:
		start, end = d, d
	}
	return start, end
}

// ParseDate parses a YYYY-MM-DD attendance date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}

// ========================= Scoring modes =========================

const (
	ModeEarlyBird = "early-bird"
	ModeLastIn    = "last-in"
)

// ValidMode reports whether m is a known scoring mode.
func ValidMode(m string) bool { return m == ModeEarlyBird || m == ModeLastIn }

// RankingRow is one derived scoring row: one person, one attended day,
// one window. Cumulative columns are running sums within the window and
// never decrease as dates advance.
type RankingRow struct {
	Person              string  `json:"person"`
	Period              Period  `json:"period"`
	Start               string  `json:"start"`
	End                 string  `json:"end"`
	Date                string  `json:"date"`
	BasePoints          float64 `json:"base_points"`
	EarlyBirdBonus      float64 `json:"early_bird_bonus"`
	LastInBonus         float64 `json:"last_in_bonus"`
	EarlyBirdCumulative float64 `json:"early_bird_cumulative"`
	LastInCumulative    float64 `json:"last_in_cumulative"`
	// ArrivalRank is filled per requested mode at query time: 1-based,
	// ascending by time for early-bird, descending for last-in.
	ArrivalRank int `json:"arrival_rank"`
	// Position is the ascending (earliest-first) 1-based arrival
	// position the row was computed with.
	Position                 int `json:"-"`
	TotalParticipantsThatDay int `json:"total_participants_that_day"`
}

// ========================= Streaks =========================

// StreakSegment is one maximal run of consecutive working-day
// attendances.
type StreakSegment struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Length    int    `json:"length"`
	IsCurrent bool   `json:"is_current"`
}

// Streak is the derived continuity record for one person.
type Streak struct {
	Person             string          `json:"person" gorm:"primaryKey;column:person"`
	CurrentLength      int             `json:"current_length" gorm:"column:current_length"`
	StreakStartDate    string          `json:"streak_start_date" gorm:"column:streak_start_date"`
	LastAttendanceDate string          `json:"last_attendance_date" gorm:"column:last_attendance_date"`
	MaxLength          int             `json:"max_length" gorm:"column:max_length"`
	History            []StreakSegment `json:"history" gorm:"serializer:json;column:history"`
}

func (Streak) TableName() string { return "user_streaks" }

// ========================= Settings =========================

// Weekday keys used in per-person working-day sets.
var AllWeekdays = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// DefaultWorkingDays is Monday through Friday.
var DefaultWorkingDays = []string{"mon", "tue", "wed", "thu", "fri"}

// Settings drives scoring, streaks and tie-breaker generation. Owned by
// the presentation layer; the core only reads it.
type Settings struct {
	ID                    int                 `json:"-" gorm:"primaryKey;column:id"`
	Points                map[string]float64  `json:"points" gorm:"serializer:json;column:points"`
	EarlyBirdBonus        float64             `json:"early_bird_bonus" gorm:"column:early_bird_bonus"`
	LastInBonus           float64             `json:"last_in_bonus" gorm:"column:last_in_bonus"`
	WorkingDays           map[string][]string `json:"working_days" gorm:"serializer:json;column:working_days"`
	EnableStreaks         bool                `json:"enable_streaks" gorm:"column:enable_streaks"`
	EnableTieBreakers     bool                `json:"enable_tiebreakers" gorm:"column:enable_tiebreakers"`
	TieBreakerPoints      float64             `json:"tiebreaker_points" gorm:"column:tiebreaker_points"`
	TieBreakerExpiryHours int                 `json:"tiebreaker_expiry" gorm:"column:tiebreaker_expiry"`
	AutoResolveTieBreaker bool                `json:"auto_resolve_tiebreakers" gorm:"column:auto_resolve_tiebreakers"`
	TieBreakerWeekly      bool                `json:"tiebreaker_weekly" gorm:"column:tiebreaker_weekly"`
	TieBreakerMonthly     bool                `json:"tiebreaker_monthly" gorm:"column:tiebreaker_monthly"`
	MonitoringStartDate   string              `json:"monitoring_start_date" gorm:"column:monitoring_start_date"`
}

func (Settings) TableName() string { return "settings" }

// DefaultSettings mirrors the values seeded on first run.
func DefaultSettings() Settings {
	return Settings{
		ID: 1,
		Points: map[string]float64{
			StatusInOffice: 10,
			StatusRemote:   8,
			StatusSick:     5,
			StatusLeave:    5,
		},
		EarlyBirdBonus:        2,
		LastInBonus:           2,
		WorkingDays:           map[string][]string{},
		EnableStreaks:         true,
		EnableTieBreakers:     true,
		TieBreakerPoints:      5,
		TieBreakerExpiryHours: 24,
		AutoResolveTieBreaker: false,
		TieBreakerWeekly:      true,
		TieBreakerMonthly:     true,
	}
}

// WorkingDaysFor returns the configured working-day set for person,
// falling back to Monday-Friday.
func (s Settings) WorkingDaysFor(person string) map[string]bool {
	days := s.WorkingDays[person]
	if len(days) == 0 {
		days = DefaultWorkingDays
	}
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return set
}

// WeekdayKey maps a time.Time to the three-letter key used in
// working-day sets.
func WeekdayKey(t time.Time) string {
	switch t.Weekday() {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	default:
		return "sun"
	}
}

// ========================= Tie-breakers =========================

const (
	TieBreakerPending    = "pending"
	TieBreakerInProgress = "in_progress"
	TieBreakerCompleted  = "completed"
)

// TieBreaker is one resolution case for an exact score tie in a closed
// weekly or monthly window. Identified by (period, start, end, points,
// mode); transitions run forward only.
type TieBreaker struct {
	ID            string  `json:"id" gorm:"primaryKey;column:id"`
	Period        Period  `json:"period" gorm:"column:period"`
	PeriodStart   string  `json:"period_start" gorm:"column:period_start;index"`
	PeriodEnd     string  `json:"period_end" gorm:"column:period_end;index"`
	PointValue    float64 `json:"points" gorm:"column:points"`
	Mode          string  `json:"mode" gorm:"column:mode"`
	Status        string  `json:"status" gorm:"column:status"`
	PointsApplied bool    `json:"points_applied" gorm:"column:points_applied"`
	// AwardPoints is the adjustment granted to the winner, captured from
	// settings at resolution time so later settings edits cannot skew a
	// revert.
	AwardPoints float64    `json:"award_points" gorm:"column:award_points"`
	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" gorm:"column:resolved_at"`

	Participants []Participant `json:"participants" gorm:"foreignKey:TieBreakerID"`
	Games        []GameSession `json:"games" gorm:"foreignKey:TieBreakerID"`
}

func (TieBreaker) TableName() string { return "tie_breakers" }

// Key is the identity used for idempotent detection.
func (t TieBreaker) Key() string {
	return fmt.Sprintf("%s|%s|%s|%.4f|%s", t.Period, t.PeriodStart, t.PeriodEnd, t.PointValue, t.Mode)
}

// Participant is one tied person inside a TieBreaker.
type Participant struct {
	ID           string `json:"-" gorm:"primaryKey;column:id"`
	TieBreakerID string `json:"tie_breaker_id" gorm:"column:tie_breaker_id;index"`
	Person       string `json:"person" gorm:"column:person"`
	GameChoice   string `json:"game_choice,omitempty" gorm:"column:game_choice"`
	Ready        bool   `json:"ready" gorm:"column:ready"`
	Winner       bool   `json:"winner" gorm:"column:winner"`
}

func (Participant) TableName() string { return "tie_breaker_participants" }

// ========================= Game sessions =========================

const (
	GameTicTacToe = "tictactoe"
	GameConnect4  = "connect4"
)

const (
	SessionPending   = "pending"
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// ValidGameKind reports whether k names a playable game.
func ValidGameKind(k string) bool { return k == GameTicTacToe || k == GameConnect4 }

// GameSession is one live board between two tied participants. Board
// cells hold a player name or "" when empty; tic-tac-toe uses 9 cells,
// connect-four 42 (row-major, row 0 on top).
type GameSession struct {
	ID                string     `json:"id" gorm:"primaryKey;column:id"`
	TieBreakerID      string     `json:"tie_breaker_id" gorm:"column:tie_breaker_id;index"`
	Kind              string     `json:"game_type" gorm:"column:game_type"`
	Player1           string     `json:"player1" gorm:"column:player1"`
	Player2           string     `json:"player2" gorm:"column:player2"`
	Status            string     `json:"status" gorm:"column:status"`
	Board             []string   `json:"board" gorm:"serializer:json;column:board"`
	CurrentTurn       string     `json:"current_turn" gorm:"column:current_turn"`
	Winner            string     `json:"winner,omitempty" gorm:"column:winner"`
	IsFinalTiebreaker bool       `json:"final_tiebreaker" gorm:"column:final_tiebreaker"`
	CreatedAt         time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

func (GameSession) TableName() string { return "tie_breaker_games" }
