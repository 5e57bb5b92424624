package sudoku

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Validator decides whether a filled grid is a valid solution.
type Validator interface {
	Check(ctx context.Context, g Grid) bool
}

// Checker is the reference Validator. A non-zero handicap throttles checks to
// at most one per handicap interval, modelling an expensive validation.
type Checker struct {
	limiter *rate.Limiter
}

// NewChecker returns a Checker with the given per-validation handicap.
func NewChecker(handicap time.Duration) *Checker {
	c := &Checker{}
	if handicap > 0 {
		c.limiter = rate.NewLimiter(rate.Every(handicap), 1)
	}
	return c
}

// Check reports whether every row, column and 3x3 box holds nine distinct
// digits summing to 45. It returns false if ctx ends while throttled.
func (c *Checker) Check(ctx context.Context, g Grid) bool {
	if c != nil && c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return IsSolved(g)
}

// SolvesPuzzle reports whether g is a valid grid that keeps every given of
// puzzle.
func SolvesPuzzle(puzzle, g Grid) bool {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if v := puzzle[r][c]; v != 0 && g[r][c] != v {
				return false
			}
		}
	}
	return IsSolved(g)
}

// IsSolved is the unthrottled validity check.
func IsSolved(g Grid) bool {
	for i := 0; i < Size; i++ {
		var row, col [Size]int
		for j := 0; j < Size; j++ {
			row[j] = g[i][j]
			col[j] = g[j][i]
		}
		if !complete(row) || !complete(col) {
			return false
		}
	}
	for br := 0; br < Size; br += 3 {
		for bc := 0; bc < Size; bc += 3 {
			var box [Size]int
			k := 0
			for r := br; r < br+3; r++ {
				for c := bc; c < bc+3; c++ {
					box[k] = g[r][c]
					k++
				}
			}
			if !complete(box) {
				return false
			}
		}
	}
	return true
}

func complete(unit [Size]int) bool {
	var seen [Size + 1]bool
	sum := 0
	for _, v := range unit {
		if v < 1 || v > Size || seen[v] {
			return false
		}
		seen[v] = true
		sum += v
	}
	return sum == 45
}
