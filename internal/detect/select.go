package detect

// topK returns the k largest values via quickselect. The input is copied;
// the returned slice is in arbitrary order.
func topK(vals []float64, k int) []float64 {
	if k <= 0 {
		return nil
	}
	if k >= len(vals) {
		return append([]float64(nil), vals...)
	}
	work := append([]float64(nil), vals...)
	quickselect(work, k)
	return work[:k]
}

// quickselect partitions work so its first k elements are the k largest.
func quickselect(work []float64, k int) {
	lo, hi := 0, len(work)-1
	for lo < hi {
		p := partition(work, lo, hi)
		switch {
		case p == k-1:
			return
		case p < k-1:
			lo = p + 1
		default:
			hi = p - 1
		}
	}
}

// partition orders work[lo..hi] around a pivot, descending, and returns
// the pivot's final index. Middle-element pivot avoids the sorted-input
// worst case.
func partition(work []float64, lo, hi int) int {
	mid := lo + (hi-lo)/2
	work[mid], work[hi] = work[hi], work[mid]
	pivot := work[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if work[j] > pivot {
			work[i], work[j] = work[j], work[i]
			i++
		}
	}
	work[i], work[hi] = work[hi], work[i]
	return i
}
