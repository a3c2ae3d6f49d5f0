// Package ordering assigns fractional sort keys to items moved inside or
// between ordered sequences.
//
// Only the moved item ever receives a new key. Inserting between two
// neighbours takes their midpoint; inserting at either end steps one unit
// past the boundary key. Repeated midpoints at the same boundary shrink the
// gap, so callers check NeedsRebalance after a move and renumber with
// Rebalance when it reports true.
package ordering

import (
	"fmt"
	"math"

	"github.com/starford/pinboard/internal/apperr"
)

// DefaultMinGap is the smallest adjacent key distance tolerated before a
// sequence should be renumbered.
const DefaultMinGap = 1e-9

// Keyed is an item carrying a numeric ordering key. WithSortKey returns a
// copy; the receiver is never modified.
type Keyed[T any] interface {
	SortKey() float64
	WithSortKey(k float64) T
}

// Reorder moves list[start] to position end and assigns it a key that keeps
// ascending key order equal to positional order. The input slice is not
// modified. When start == end the result is an unchanged copy and changed
// is false.
func Reorder[T Keyed[T]](list []T, start, end int) (out []T, moved T, changed bool, err error) {
	n := len(list)
	if start < 0 || start >= n || end < 0 || end >= n {
		return nil, moved, false, fmt.Errorf("%w: reorder %d -> %d in %d items", apperr.ErrInvalidMove, start, end, n)
	}

	out = make([]T, n)
	copy(out, list)
	if start == end {
		return out, list[start], false, nil
	}

	var key float64
	switch {
	case start > end && end == 0:
		key = list[0].SortKey() - 1
	case start > end:
		key = midpoint(list[end].SortKey(), list[end-1].SortKey())
	case end == n-1:
		key = list[n-1].SortKey() + 1
	default:
		key = midpoint(list[end].SortKey(), list[end+1].SortKey())
	}

	moved = list[start].WithSortKey(key)
	out = append(out[:start], out[start+1:]...)
	out = insert(out, end, moved)
	return out, moved, true, nil
}

// Move removes src[srcIndex] and inserts it into dst at dstIndex, which may
// equal len(dst) to append. The key is computed against dst before the
// insertion. Neither input slice is modified.
func Move[T Keyed[T]](src, dst []T, srcIndex, dstIndex int) (newSrc, newDst []T, moved T, err error) {
	if srcIndex < 0 || srcIndex >= len(src) {
		return nil, nil, moved, fmt.Errorf("%w: source index %d of %d", apperr.ErrInvalidMove, srcIndex, len(src))
	}
	if dstIndex < 0 || dstIndex > len(dst) {
		return nil, nil, moved, fmt.Errorf("%w: destination index %d of %d", apperr.ErrInvalidMove, dstIndex, len(dst))
	}

	moved = src[srcIndex].WithSortKey(InsertKey(dst, dstIndex))

	newSrc = make([]T, 0, len(src)-1)
	newSrc = append(newSrc, src[:srcIndex]...)
	newSrc = append(newSrc, src[srcIndex+1:]...)

	newDst = make([]T, len(dst), len(dst)+1)
	copy(newDst, dst)
	newDst = insert(newDst, dstIndex, moved)
	return newSrc, newDst, moved, nil
}

// InsertKey returns the key for a new item placed at position i of list,
// 0 <= i <= len(list). An empty list yields 0.
func InsertKey[T Keyed[T]](list []T, i int) float64 {
	n := len(list)
	switch {
	case n == 0:
		return 0
	case i <= 0:
		return list[0].SortKey() - 1
	case i >= n:
		return list[n-1].SortKey() + 1
	default:
		return midpoint(list[i-1].SortKey(), list[i].SortKey())
	}
}

// AppendKey returns the key for an item added after the last one.
func AppendKey[T Keyed[T]](list []T) float64 {
	return InsertKey(list, len(list))
}

// NeedsRebalance reports whether any key is not finite or two adjacent keys
// (in positional order) are closer than minGap. A non-positive minGap uses
// DefaultMinGap.
func NeedsRebalance[T Keyed[T]](list []T, minGap float64) bool {
	if minGap <= 0 {
		minGap = DefaultMinGap
	}
	for i, item := range list {
		k := item.SortKey()
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return true
		}
		if i > 0 && k-list[i-1].SortKey() < minGap {
			return true
		}
	}
	return false
}

// Rebalance renumbers list to keys 0, 1, 2, ... in positional order and
// returns the new slice together with the positions whose key changed.
func Rebalance[T Keyed[T]](list []T) ([]T, []int) {
	out := make([]T, len(list))
	var changed []int
	for i, item := range list {
		k := float64(i)
		if item.SortKey() != k {
			changed = append(changed, i)
		}
		out[i] = item.WithSortKey(k)
	}
	return out, changed
}

func midpoint(a, b float64) float64 {
	return a + (b-a)/2
}

func insert[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
