package sudoku

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Size is the side length of a grid.
const Size = 9

// Grid errors
var (
	ErrInvalidGrid = errors.New("invalid sudoku grid")
	ErrUnsolvable  = errors.New("sudoku grid has no completion")
)

// Grid is a 9x9 puzzle. Zero marks an empty cell.
type Grid [Size][Size]int

// Cell addresses one grid position.
type Cell struct {
	Row int
	Col int
}

// Validate checks that every value is in 0..9.
func (g Grid) Validate() error {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if v := g[r][c]; v < 0 || v > Size {
				return fmt.Errorf("%w: cell (%d,%d) holds %d", ErrInvalidGrid, r, c, v)
			}
		}
	}
	return nil
}

// EmptyCells lists the empty cells in row-major order.
func EmptyCells(g Grid) []Cell {
	var cells []Cell
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == 0 {
				cells = append(cells, Cell{Row: r, Col: c})
			}
		}
	}
	return cells
}

// RowCandidates returns, per row, the digits 1..9 not yet placed in that row.
func RowCandidates(g Grid) [Size][]int {
	var out [Size][]int
	for r := 0; r < Size; r++ {
		var used [Size + 1]bool
		for c := 0; c < Size; c++ {
			used[g[r][c]] = true
		}
		for d := 1; d <= Size; d++ {
			if !used[d] {
				out[r] = append(out[r], d)
			}
		}
	}
	return out
}

// UnmarshalJSON accepts exactly nine rows of nine integers.
func (g *Grid) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var rows [][]int
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGrid, err)
	}
	if len(rows) != Size {
		return fmt.Errorf("%w: %d rows", ErrInvalidGrid, len(rows))
	}
	var out Grid
	for r, row := range rows {
		if len(row) != Size {
			return fmt.Errorf("%w: row %d has %d cells", ErrInvalidGrid, r, len(row))
		}
		copy(out[r][:], row)
	}
	*g = out
	return nil
}

func (g Grid) String() string {
	var b strings.Builder
	b.WriteString("+-------+-------+-------+\n")
	for r := 0; r < Size; r++ {
		b.WriteString("| ")
		for c := 0; c < Size; c++ {
			if g[r][c] == 0 {
				b.WriteByte('.')
			} else {
				b.WriteByte(byte('0' + g[r][c]))
			}
			if c%3 == 2 {
				b.WriteString(" | ")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteByte('\n')
		if r%3 == 2 {
			b.WriteString("+-------+-------+-------+\n")
		}
	}
	return b.String()
}
