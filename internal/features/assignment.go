package features

import "math"

// assignmentHighCost is the dummy-cell cost used to pad a rectangular cost
// matrix to square before running the Hungarian algorithm. It must exceed
// any real cost cost[i,j] can take (alpha+beta*5+gamma*5 bounds the real
// max at 2.2 given the defaults in features.go), so a dummy assignment is
// never preferred over a real one. No corpus or ecosystem library here
// implements a rectangular min-cost assignment solver, so this is a
// from-scratch Kuhn-Munkres implementation (documented in DESIGN.md).
const assignmentHighCost = 1e6

// assignment holds one solved matching between rows [0,n) and columns
// [0,m) of the original (unpadded) cost matrix.
type assignment struct {
	// rowMatch[i] is the matched column for row i, or -1 if row i is
	// unmatched (only possible padding artifacts are excluded here).
	rowMatch []int
}

// solveAssignment finds a minimum-cost matching over the n×m cost matrix,
// permitting unmatched rows and columns when n != m, by padding the matrix
// to square with assignmentHighCost dummy cells and running the Hungarian
// algorithm (Kuhn-Munkres) on the square matrix.
func solveAssignment(cost [][]float64, n, m int) assignment {
	if n == 0 || m == 0 {
		rowMatch := make([]int, n)
		for i := range rowMatch {
			rowMatch[i] = -1
		}
		return assignment{rowMatch: rowMatch}
	}

	size := n
	if m > size {
		size = m
	}

	sq := make([][]float64, size)
	for i := 0; i < size; i++ {
		sq[i] = make([]float64, size)
		for j := 0; j < size; j++ {
			switch {
			case i < n && j < m:
				sq[i][j] = cost[i][j]
			default:
				sq[i][j] = assignmentHighCost
			}
		}
	}

	colForRow := hungarian(sq, size)

	rowMatch := make([]int, n)
	for i := 0; i < n; i++ {
		j := colForRow[i]
		if j >= 0 && j < m && sq[i][j] < assignmentHighCost {
			rowMatch[i] = j
		} else {
			rowMatch[i] = -1
		}
	}
	return assignment{rowMatch: rowMatch}
}

// hungarian solves the square n×n minimum-cost assignment problem using the
// Jonker-Volgenant-style shortest-augmenting-path formulation of the
// Kuhn-Munkres algorithm with potentials (O(n^3)). Returns, for each row,
// the assigned column.
//
// u, v are the row/column potentials; p[j] is the row currently assigned to
// column j (1-indexed internally, 0 meaning unassigned); way[j] records the
// column visited immediately before j on the augmenting path, for path
// reconstruction. This is the textbook formulation; indices are shifted by
// one internally to use 0 as the sentinel "no assignment" value.
func hungarian(cost [][]float64, n int) []int {
	const inf = math.MaxFloat64

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row assigned to column j (1-indexed rows), 0 = none
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := 0; j <= n; j++ {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowForCol := p
	colForRow := make([]int, n)
	for i := range colForRow {
		colForRow[i] = -1
	}
	for j := 1; j <= n; j++ {
		if rowForCol[j] != 0 {
			colForRow[rowForCol[j]-1] = j - 1
		}
	}
	return colForRow
}
