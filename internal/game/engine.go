// Package game implements the two turn-based games used to resolve
// tie-breakers. Both games share one move-validation contract (Kind);
// they share no state.
package game

import (
	"errors"

	"github.com/mattdh/officepulse/internal/models"
)

// Validation errors. A rejected move never mutates the session.
var (
	ErrNotActive   = errors.New("game is not active")
	ErrNotYourTurn = errors.New("not your turn")
	ErrNotAPlayer  = errors.New("not a registered player")
	ErrBadPosition = errors.New("move out of range")
	ErrOccupied    = errors.New("cell already occupied")
	ErrColumnFull  = errors.New("column is full")
	ErrUnknownKind = errors.New("unknown game kind")
)

// Result of a move.
type Result int

const (
	Continue Result = iota
	Win
	Draw
)

// Outcome pairs a Result with the winning player, set only for Win.
type Outcome struct {
	Result Result `json:"result"`
	Winner string `json:"winner,omitempty"`
}

// Kind is the per-game move contract. Boards are flat slices of player
// names, "" for empty.
type Kind interface {
	Name() string
	BoardSize() int
	// Place validates the move target and returns the cell index the
	// mark lands in, without mutating the board.
	Place(board []string, move int) (int, error)
	// Outcome inspects a board for a finished game.
	Outcome(board []string) Outcome
}

// ForKind resolves a kind by its wire name.
func ForKind(name string) (Kind, error) {
	switch name {
	case models.GameTicTacToe:
		return TicTacToe{}, nil
	case models.GameConnect4:
		return Connect4{}, nil
	}
	return nil, ErrUnknownKind
}

// NewBoard allocates an empty board for the kind.
func NewBoard(k Kind) []string { return make([]string, k.BoardSize()) }

// ApplyMove validates and applies one move to a session. On rejection
// the session is untouched and a validation error is returned. On
// success the board and turn are updated; a win or draw also marks the
// session completed.
func ApplyMove(s *models.GameSession, player string, move int) (Outcome, error) {
	kind, err := ForKind(s.Kind)
	if err != nil {
		return Outcome{}, err
	}
	if s.Status != models.SessionActive {
		return Outcome{}, ErrNotActive
	}
	if player != s.Player1 && player != s.Player2 {
		return Outcome{}, ErrNotAPlayer
	}
	if player != s.CurrentTurn {
		return Outcome{}, ErrNotYourTurn
	}
	if len(s.Board) != kind.BoardSize() {
		s.Board = NewBoard(kind)
	}
	cell, err := kind.Place(s.Board, move)
	if err != nil {
		return Outcome{}, err
	}

	s.Board[cell] = player
	if player == s.Player1 {
		s.CurrentTurn = s.Player2
	} else {
		s.CurrentTurn = s.Player1
	}

	out := kind.Outcome(s.Board)
	switch out.Result {
	case Win:
		s.Winner = out.Winner
		s.Status = models.SessionCompleted
	case Draw:
		s.Status = models.SessionCompleted
	}
	return out, nil
}
