package game

import "github.com/mattdh/officepulse/internal/models"

// Connect4 is the 7-column, 6-row drop game. A move addresses a column
// 0-6; the mark falls to the lowest empty row. Board is row-major with
// row 0 at the top, so cell = row*7 + col.
type Connect4 struct{}

const (
	c4Cols = 7
	c4Rows = 6
)

func (Connect4) Name() string   { return models.GameConnect4 }
func (Connect4) BoardSize() int { return c4Cols * c4Rows }

func (Connect4) Place(board []string, move int) (int, error) {
	if move < 0 || move >= c4Cols {
		return 0, ErrBadPosition
	}
	for row := c4Rows - 1; row >= 0; row-- {
		cell := row*c4Cols + move
		if board[cell] == "" {
			return cell, nil
		}
	}
	return 0, ErrColumnFull
}

func (Connect4) Outcome(board []string) Outcome {
	at := func(row, col int) string { return board[row*c4Cols+col] }

	// Horizontal.
	for row := 0; row < c4Rows; row++ {
		for col := 0; col <= c4Cols-4; col++ {
			if p := at(row, col); p != "" &&
				at(row, col+1) == p && at(row, col+2) == p && at(row, col+3) == p {
				return Outcome{Result: Win, Winner: p}
			}
		}
	}
	// Vertical.
	for row := 0; row <= c4Rows-4; row++ {
		for col := 0; col < c4Cols; col++ {
			if p := at(row, col); p != "" &&
				at(row+1, col) == p && at(row+2, col) == p && at(row+3, col) == p {
				return Outcome{Result: Win, Winner: p}
			}
		}
	}
	// Diagonal, down-right.
	for row := 0; row <= c4Rows-4; row++ {
		for col := 0; col <= c4Cols-4; col++ {
			if p := at(row, col); p != "" &&
				at(row+1, col+1) == p && at(row+2, col+2) == p && at(row+3, col+3) == p {
				return Outcome{Result: Win, Winner: p}
			}
		}
	}
	// Diagonal, down-left.
	for row := 0; row <= c4Rows-4; row++ {
		for col := 3; col < c4Cols; col++ {
			if p := at(row, col); p != "" &&
				at(row+1, col-1) == p && at(row+2, col-2) == p && at(row+3, col-3) == p {
				return Outcome{Result: Win, Winner: p}
			}
		}
	}

	for _, cell := range board {
		if cell == "" {
			return Outcome{Result: Continue}
		}
	}
	return Outcome{Result: Draw}
}
