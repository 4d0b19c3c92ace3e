package resolver

import (
	"sort"
	"strconv"
	"strings"

	"onedl/internal"
)

// ParseSelection picks files from available using a comma separated list of
// 1-based indices and inclusive a-b ranges. Empty input or "all" selects
// everything.
func ParseSelection(input string, available []internal.ResolvedFile) ([]internal.ResolvedFile, error) {
	input = strings.TrimSpace(input)
	if input == "" || strings.EqualFold(input, "all") {
		return append([]internal.ResolvedFile(nil), available...), nil
	}

	byIndex := make(map[int]internal.ResolvedFile, len(available))
	for _, f := range available {
		byIndex[f.Index] = f
	}

	picked := make(map[int]bool)
	for _, raw := range strings.Split(input, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			return nil, internal.NewInvalidSelectionError(raw, "empty token")
		}

		lo, hi, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, internal.NewInvalidSelectionError(token, "range is inverted")
		}
		if lo < 1 || hi > len(available) {
			return nil, internal.NewInvalidSelectionError(token, "index out of range 1-"+strconv.Itoa(len(available))).
				WithContext("available", len(available))
		}
		for i := lo; i <= hi; i++ {
			picked[i] = true
		}
	}

	indices := make([]int, 0, len(picked))
	for i := range picked {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]internal.ResolvedFile, 0, len(indices))
	for _, i := range indices {
		f, ok := byIndex[i]
		if !ok {
			// available was not indexed 1..N, fall back to position
			f = available[i-1]
		}
		out = append(out, f)
	}
	return out, nil
}

func parseToken(token string) (int, int, error) {
	if lo, hi, ok := strings.Cut(token, "-"); ok {
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil {
			return 0, 0, internal.NewInvalidSelectionError(token, "not a range")
		}
		return a, b, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, 0, internal.NewInvalidSelectionError(token, "not a number")
	}
	return n, n, nil
}
