package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// addLimitFlags registers the mutually exclusive --head, --tail and --range flags.
func addLimitFlags(cmd *cobra.Command, head, tail *int, rangeStr *string) {
	cmd.Flags().IntVar(head, "head", 0, "Return first N entries")
	cmd.Flags().IntVar(tail, "tail", 0, "Return last N entries")
	cmd.Flags().StringVar(rangeStr, "range", "", "Return entries in range (format: START-END)")
	cmd.MarkFlagsMutuallyExclusive("head", "tail", "range")
}

// applyLimiting applies head, tail, or range limiting to entries.
func applyLimiting[T any](entries []T, head, tail int, rangeStr string) ([]T, error) {
	if head > 0 {
		if head > len(entries) {
			head = len(entries)
		}
		return entries[:head], nil
	}

	if tail > 0 {
		if tail > len(entries) {
			tail = len(entries)
		}
		return entries[len(entries)-tail:], nil
	}

	if rangeStr != "" {
		start, end, err := parseRange(rangeStr)
		if err != nil {
			return nil, err
		}
		if start < 0 {
			start = 0
		}
		if end > len(entries) {
			end = len(entries)
		}
		if start >= end {
			return []T{}, nil
		}
		return entries[start:end], nil
	}

	return entries, nil
}

func parseRange(s string) (int, int, error) {
	errFormat := fmt.Errorf("invalid range format: use START-END (e.g., 100-200)")
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, errFormat
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errFormat
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errFormat
	}
	return start, end, nil
}

// filterEntries keeps the entries for which keep returns true.
func filterEntries[T any](entries []T, keep func(T) bool) []T {
	filtered := []T{}
	for _, e := range entries {
		if keep(e) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
