package sudoku

import (
	"context"
	"fmt"
	"math/rand"
)

// Search fills the empty cells of g with random candidates of their row until
// v accepts the grid or ctx is done. Each fill counts as one validation and is
// reported through onValidation when it is non-nil.
//
// The search is a guess-and-check race, not a solver: it never backtracks and
// offers no bound on the number of validations.
func Search(ctx context.Context, g Grid, v Validator, rng *rand.Rand, onValidation func()) (Grid, int64, error) {
	if err := g.Validate(); err != nil {
		return Grid{}, 0, err
	}
	if err := givensConflict(g); err != nil {
		return Grid{}, 0, err
	}

	cells := EmptyCells(g)
	candidates := RowCandidates(g)
	work := g
	var validations int64

	for {
		select {
		case <-ctx.Done():
			return Grid{}, validations, ctx.Err()
		default:
		}

		for _, cell := range cells {
			row := candidates[cell.Row]
			work[cell.Row][cell.Col] = row[rng.Intn(len(row))]
		}
		validations++
		if onValidation != nil {
			onValidation()
		}
		if v.Check(ctx, work) {
			return work, validations, nil
		}
		if len(cells) == 0 {
			return Grid{}, validations, fmt.Errorf("%w: grid is full but invalid", ErrUnsolvable)
		}
	}
}

// givensConflict rejects grids whose placed digits already repeat within a
// row, column or box. Such grids can never pass the check.
func givensConflict(g Grid) error {
	var rows, cols, boxes [Size][Size + 1]bool
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			d := g[r][c]
			if d == 0 {
				continue
			}
			b := (r/3)*3 + c/3
			if rows[r][d] || cols[c][d] || boxes[b][d] {
				return fmt.Errorf("%w: digit %d repeats at (%d,%d)", ErrUnsolvable, d, r, c)
			}
			rows[r][d], cols[c][d], boxes[b][d] = true, true, true
		}
	}
	return nil
}
