package container

import "fmt"

// IndexList accumulates item indexes for one destination in the
// [offset, count, offset, count, ..., total] layout, coalescing
// contiguous runs.
type IndexList struct {
	runs  []int
	total int
}

// Add appends item index i.
func (l *IndexList) Add(i int) {
	n := len(l.runs)
	if n >= 2 && l.runs[n-2]+l.runs[n-1] == i {
		l.runs[n-1]++
	} else {
		l.runs = append(l.runs, i, 1)
	}
	l.total++
}

// Len returns the number of indexes added.
func (l *IndexList) Len() int {
	return l.total
}

// Ranges returns the encoded list, total last.
func (l *IndexList) Ranges() []int {
	out := make([]int, len(l.runs), len(l.runs)+1)
	copy(out, l.runs)
	return append(out, l.total)
}

// RangeTotal returns the item total of an encoded list.
func RangeTotal(r []int) int {
	if len(r) == 0 {
		return 0
	}
	return r[len(r)-1]
}

// ForEachRun calls fn for every (offset, count) run of an encoded list.
func ForEachRun(r []int, fn func(offset, count int)) {
	for j := 0; j+1 < len(r); j += 2 {
		fn(r[j], r[j+1])
	}
}

// ValidateIndexList checks the layout of an encoded list.
func ValidateIndexList(r []int) error {
	if len(r) == 0 {
		return nil
	}
	if len(r)%2 != 1 {
		return fmt.Errorf("%w: index list of even length %d", ErrInvalidRanges, len(r))
	}
	sum := 0
	for j := 0; j+1 < len(r); j += 2 {
		if r[j] < 0 || r[j+1] < 0 {
			return fmt.Errorf("%w: negative run (%d, %d)", ErrInvalidRanges, r[j], r[j+1])
		}
		sum += r[j+1]
	}
	if sum != RangeTotal(r) {
		return fmt.Errorf("%w: runs hold %d items, total says %d", ErrInvalidRanges, sum, RangeTotal(r))
	}
	return nil
}

// localIndexes maps every original index of an encoded list to its
// position in the destination.
func localIndexes(r []int) map[int]int {
	m := make(map[int]int, RangeTotal(r))
	pos := 0
	ForEachRun(r, func(offset, count int) {
		for k := 0; k < count; k++ {
			m[offset+k] = pos
			pos++
		}
	})
	return m
}
