/*
 *
 * chromecov - code coverage collection for CDP browsers
 * Copyright (C) 2022 The chromecov Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import "sort"

// Range is a half-open [Start, End) span of byte offsets into a resource's
// text that was used at least once. Within one CoverageEntry ranges are
// pairwise disjoint and sorted ascending.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// rawRange is a backend-reported interval with a hit count. Raw ranges for
// one resource may nest or overlap arbitrarily.
type rawRange struct {
	startOffset int64
	endOffset   int64
	count       int64
}

// boundaryPoint is one side of a rawRange during the sweep.
type boundaryPoint struct {
	offset int64
	end    bool
	length int64
	count  int64
}

// convertToDisjointRanges reduces nested and overlapping hit-count intervals
// to the disjoint, ascending spans that were actually used. It sweeps the
// interval boundaries left to right, keeping a stack of hit counts for the
// currently open intervals; a span between two boundaries is used when the
// innermost open interval has a positive hit count.
func convertToDisjointRanges(raw []rawRange) []Range {
	points := make([]boundaryPoint, 0, len(raw)*2)
	for _, r := range raw {
		length := r.endOffset - r.startOffset
		points = append(points,
			boundaryPoint{offset: r.startOffset, end: false, length: length, count: r.count},
			boundaryPoint{offset: r.endOffset, end: true, length: length, count: r.count},
		)
	}

	// The tie-break order is load-bearing: it makes the open/close points of
	// nested intervals behave like a valid parenthesis sequence. At equal
	// offsets, ends sort before starts, longer intervals open first and
	// shorter intervals close first.
	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.offset != b.offset {
			return a.offset < b.offset
		}
		if a.end != b.end {
			return a.end
		}
		if !a.end {
			return a.length > b.length
		}
		return a.length < b.length
	})

	var (
		hitCountStack []int64
		results       []Range
		lastOffset    int64
	)
	for _, p := range points {
		if len(hitCountStack) > 0 && lastOffset < p.offset &&
			hitCountStack[len(hitCountStack)-1] > 0 {
			if n := len(results); n > 0 && results[n-1].End == lastOffset {
				results[n-1].End = p.offset
			} else {
				results = append(results, Range{Start: lastOffset, End: p.offset})
			}
		}
		lastOffset = p.offset
		if p.end {
			if len(hitCountStack) > 0 {
				hitCountStack = hitCountStack[:len(hitCountStack)-1]
			}
		} else {
			hitCountStack = append(hitCountStack, p.count)
		}
	}

	// Spans of width 1 are artifacts of the exclusive end offset, not used
	// code.
	filtered := results[:0]
	for _, r := range results {
		if r.End-r.Start > 1 {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
