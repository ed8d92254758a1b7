package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertToDisjointRanges(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		raw      []rawRange
		expected []Range
	}{
		{
			name:     "empty_input",
			raw:      nil,
			expected: nil,
		},
		{
			name:     "single_positive",
			raw:      []rawRange{{0, 10, 1}},
			expected: []Range{{Start: 0, End: 10}},
		},
		{
			name:     "single_zero_count",
			raw:      []rawRange{{0, 10, 0}},
			expected: nil,
		},
		{
			name: "nested_zero_count_excluded",
			raw:  []rawRange{{0, 10, 1}, {2, 5, 0}},
			expected: []Range{
				{Start: 0, End: 2},
				{Start: 5, End: 10},
			},
		},
		{
			name:     "abutting_positive_ranges_merge",
			raw:      []rawRange{{0, 5, 1}, {5, 10, 1}},
			expected: []Range{{Start: 0, End: 10}},
		},
		{
			name:     "width_one_dropped",
			raw:      []rawRange{{3, 4, 1}},
			expected: nil,
		},
		{
			name:     "overlapping_positive_ranges",
			raw:      []rawRange{{0, 6, 1}, {4, 10, 2}},
			expected: []Range{{Start: 0, End: 10}},
		},
		{
			name: "nested_positive_inside_zero",
			raw:  []rawRange{{0, 10, 0}, {2, 6, 3}},
			expected: []Range{
				{Start: 2, End: 6},
			},
		},
		{
			name: "deeply_nested",
			raw:  []rawRange{{0, 20, 1}, {2, 18, 0}, {4, 10, 5}},
			expected: []Range{
				{Start: 0, End: 2},
				{Start: 4, End: 10},
				{Start: 18, End: 20},
			},
		},
		{
			name:     "zero_width_contributes_no_span",
			raw:      []rawRange{{5, 5, 1}},
			expected: nil,
		},
		{
			name: "disjoint_sorted_input_unchanged",
			raw:  []rawRange{{0, 5, 1}, {7, 12, 1}, {20, 30, 2}},
			expected: []Range{
				{Start: 0, End: 5},
				{Start: 7, End: 12},
				{Start: 20, End: 30},
			},
		},
		{
			name: "unsorted_input",
			raw:  []rawRange{{20, 30, 1}, {0, 5, 1}},
			expected: []Range{
				{Start: 0, End: 5},
				{Start: 20, End: 30},
			},
		},
		{
			name: "zero_hit_subrange_splits",
			raw:  []rawRange{{0, 10, 1}, {2, 4, 0}},
			expected: []Range{
				{Start: 0, End: 2},
				{Start: 4, End: 10},
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := convertToDisjointRanges(tc.raw)
			if len(tc.expected) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

// The normalizer must be a pure function of its input.
func TestConvertToDisjointRangesDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	raw := []rawRange{{5, 10, 1}, {0, 3, 1}}
	_ = convertToDisjointRanges(raw)
	assert.Equal(t, []rawRange{{5, 10, 1}, {0, 3, 1}}, raw)
}

func TestConvertToDisjointRangesOutputInvariants(t *testing.T) {
	t.Parallel()

	raw := []rawRange{
		{0, 100, 1},
		{10, 90, 0},
		{20, 40, 2},
		{39, 60, 1},
		{60, 61, 5},
		{95, 95, 1},
	}
	got := convertToDisjointRanges(raw)

	for i, r := range got {
		assert.Greater(t, r.End-r.Start, int64(1), "range %d has width <= 1", i)
		if i > 0 {
			assert.Greater(t, r.Start, got[i-1].End, "range %d overlaps or touches its predecessor", i)
		}
	}
}
