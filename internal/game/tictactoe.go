package game

import "github.com/mattdh/officepulse/internal/models"

// TicTacToe is the 3x3 grid game. A move addresses an empty cell 0-8.
type TicTacToe struct{}

var tttLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

func (TicTacToe) Name() string   { return models.GameTicTacToe }
func (TicTacToe) BoardSize() int { return 9 }

func (TicTacToe) Place(board []string, move int) (int, error) {
	if move < 0 || move > 8 {
		return 0, ErrBadPosition
	}
	if board[move] != "" {
		return 0, ErrOccupied
	}
	return move, nil
}

func (TicTacToe) Outcome(board []string) Outcome {
	for _, line := range tttLines {
		p := board[line[0]]
		if p != "" && board[line[1]] == p && board[line[2]] == p {
			return Outcome{Result: Win, Winner: p}
		}
	}
	for _, cell := range board {
		if cell == "" {
			return Outcome{Result: Continue}
		}
	}
	return Outcome{Result: Draw}
}
