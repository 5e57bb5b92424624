// Package sudoku holds the puzzle model used by the solve race: the 9x9
// grid, its empty cells and row candidates, the validity check and the
// randomized guess-and-check search every participating node runs.
package sudoku
