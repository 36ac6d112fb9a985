package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// VLAN ID bounds (IEEE 802.1Q). 0 and 4095 are reserved.
const (
	MinVLANID     = 1
	MaxVLANID     = 4094
	DefaultVLANID = 1
)

// ValidateVLANID reports whether id is a usable VLAN ID.
func ValidateVLANID(id int) error {
	if id < MinVLANID || id > MaxVLANID {
		return fmt.Errorf("VLAN ID %d out of range (%d-%d)", id, MinVLANID, MaxVLANID)
	}
	return nil
}

// ExpandVLANList expands a device VLAN list into sorted unique IDs.
//   - "100" -> [100]
//   - "100-102,200" -> [100, 101, 102, 200]
//   - "add 300" and "remove 300" prefixes are stripped by the caller
//
// Range bounds are not checked against the 802.1Q limits; rule checks do that.
func ExpandVLANList(list string) ([]int, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}

	var result []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid VLAN value: %s", part)
			}
			result = append(result, v)
			continue
		}

		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid start value in range %s: %v", part, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid end value in range %s: %v", part, err)
		}
		if start > end {
			return nil, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
		}
		for i := start; i <= end; i++ {
			result = append(result, i)
		}
	}

	sort.Ints(result)
	return dedupInts(result), nil
}

// CompactRange compacts a list of integers into range notation
// [1, 2, 3, 5, 7, 8, 9] -> "1-3,5,7-9"
func CompactRange(values []int) string {
	if len(values) == 0 {
		return ""
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	sorted = dedupInts(sorted)

	var parts []string
	start, end := sorted[0], sorted[0]
	for _, v := range sorted[1:] {
		if v == end+1 {
			end = v
			continue
		}
		parts = append(parts, formatRange(start, end))
		start, end = v, v
	}
	parts = append(parts, formatRange(start, end))

	return strings.Join(parts, ",")
}

func formatRange(start, end int) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
