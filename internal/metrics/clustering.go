package metrics

import "math"

// contingency is the cross-tabulation of two labelings of the same voters.
type contingency struct {
	n       int
	cells   [][]int
	rowSums []int // per label of the current partition
	colSums []int // per label of the reference partition
}

func newContingency(current, reference []int) *contingency {
	curIdx := labelIndex(current)
	refIdx := labelIndex(reference)

	c := &contingency{
		n:       len(current),
		cells:   make([][]int, len(curIdx)),
		rowSums: make([]int, len(curIdx)),
		colSums: make([]int, len(refIdx)),
	}
	for i := range c.cells {
		c.cells[i] = make([]int, len(refIdx))
	}
	for k := range current {
		i, j := curIdx[current[k]], refIdx[reference[k]]
		c.cells[i][j]++
		c.rowSums[i]++
		c.colSums[j]++
	}
	return c
}

// AdjustedRandIndex compares the cluster labels of the current run with those
// of a previous run over the same voters.
//
//	ARI = (Σ C(n_ij,2) - E) / (½(Σ C(a_i,2) + Σ C(b_j,2)) - E)
//	E   = Σ C(a_i,2) · Σ C(b_j,2) / C(n,2)
//
// 1 means the voting blocs are unchanged, around 0 means they are unrelated.
// Mismatched lengths or fewer than two voters yield 0.
func AdjustedRandIndex(current, reference []int) float64 {
	if len(current) != len(reference) || len(current) < 2 {
		return 0
	}
	c := newContingency(current, reference)

	var index, sumRows, sumCols float64
	for i := range c.cells {
		for _, nij := range c.cells[i] {
			index += comb2(nij)
		}
	}
	for _, a := range c.rowSums {
		sumRows += comb2(a)
	}
	for _, b := range c.colSums {
		sumCols += comb2(b)
	}

	expected := sumRows * sumCols / comb2(c.n)
	maxIndex := 0.5 * (sumRows + sumCols)

	denominator := maxIndex - expected
	if math.Abs(denominator) < 1e-12 {
		// both partitions are trivial (all singletons or one bloc)
		return 1
	}
	return (index - expected) / denominator
}

// VariationOfInformation is H(current|reference) + H(reference|current) in
// bits. 0 means identical blocs.
func VariationOfInformation(current, reference []int) float64 {
	if len(current) != len(reference) || len(current) < 2 {
		return 0
	}
	c := newContingency(current, reference)
	n := float64(c.n)

	var vi float64
	for i := range c.cells {
		for j, nij := range c.cells[i] {
			if nij == 0 {
				continue
			}
			p := float64(nij) / n
			vi -= p * math.Log2(float64(nij)/float64(c.colSums[j]))
			vi -= p * math.Log2(float64(nij)/float64(c.rowSums[i]))
		}
	}
	return vi
}

// comb2 computes C(n, 2)
func comb2(n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n) * float64(n-1) / 2.0
}

// labelIndex maps each label to a dense index in first-appearance order.
func labelIndex(labels []int) map[int]int {
	idx := make(map[int]int)
	for _, l := range labels {
		if _, ok := idx[l]; !ok {
			idx[l] = len(idx)
		}
	}
	return idx
}

// distinctLabels returns the labels in first-appearance order.
func distinctLabels(labels []int) []int {
	idx := labelIndex(labels)
	out := make([]int, len(idx))
	for l, i := range idx {
		out[i] = l
	}
	return out
}
