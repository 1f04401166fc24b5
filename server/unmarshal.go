package server

import (
	"fmt"
	"slices"
	"strconv"
)

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

// unmarshalIDListFast reads "1,2,3" as used in paths, or a JSON array of
// integers as posted in request bodies.
func unmarshalIDListFast(data []byte, result *[]int64) error {
	i := 0
	n := len(data)

	*result = slices.Grow(*result, n/8) // n/8 is a heuristic

	for i < n && isSpace(data[i]) {
		i++
	}

	bracketed := i < n && data[i] == '['
	if bracketed {
		i++
	}

	for first := true; ; first = false {
		for i < n && isSpace(data[i]) {
			i++
		}

		if bracketed && first && i < n && data[i] == ']' {
			i++
			break
		}

		start := i
		if i < n && data[i] == '-' {
			i++
		}
		digits := i
		for i < n && data[i] >= '0' && data[i] <= '9' {
			i++
		}
		if digits == i {
			return fmt.Errorf("invalid format: expected id at %d", i)
		}
		if data[digits] == '0' && i-digits > 1 {
			return fmt.Errorf("invalid id: leading zero at %d", digits)
		}
		id, err := strconv.ParseInt(string(data[start:i]), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id: %w", err)
		}
		*result = append(*result, id)

		for i < n && isSpace(data[i]) {
			i++
		}

		if i < n && data[i] == ',' {
			i++
			continue
		}
		if bracketed {
			if i >= n || data[i] != ']' {
				return fmt.Errorf("invalid format: expected ']'")
			}
			i++
		}
		break
	}

	for i < n && isSpace(data[i]) {
		i++
	}
	if i != n {
		return fmt.Errorf("invalid format: unexpected %q at %d", data[i], i)
	}
	return nil
}
