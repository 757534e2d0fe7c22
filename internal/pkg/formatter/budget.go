package formatter

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"webextract/internal/pkg/types"
)

// StripMarkersAbove removes the citation markers numbered above maxLinks
// and returns the body with the surviving markers moved to their new
// offsets. Only the recorded spans are touched, so bracketed page text
// such as "see [3]" survives.
func StripMarkersAbove(body string, markers []types.Marker, maxLinks int) (string, []types.Marker) {
	markers = validMarkers(body, markers)
	var (
		b       strings.Builder
		kept    = make([]types.Marker, 0, len(markers))
		last    int
		removed int
	)
	for _, m := range markers {
		if m.Index <= maxLinks {
			kept = append(kept, types.Marker{Index: m.Index, Start: m.Start - removed, End: m.End - removed})
			continue
		}
		b.WriteString(body[last:m.Start])
		last = m.End
		removed += m.End - m.Start
	}
	if removed == 0 {
		return body, kept
	}
	b.WriteString(body[last:])
	return b.String(), kept
}

// ApplyBudget trims body to at most maxChars runes. A cut that would land
// inside one of the markers moves to before that marker. The second result
// reports whether the untrimmed body was longer than maxChars.
func ApplyBudget(body string, markers []types.Marker, maxChars int) (string, bool) {
	if maxChars < 0 {
		maxChars = 0
	}
	if utf8.RuneCountInString(body) <= maxChars {
		return body, false
	}

	cut := byteOffset(body, maxChars)
	for _, m := range validMarkers(body, markers) {
		if m.Start >= cut {
			break
		}
		if cut < m.End {
			cut = m.Start
			break
		}
	}
	return strings.TrimRightFunc(body[:cut], unicode.IsSpace), true
}

// Keeps the spans that are ordered, disjoint and inside body.
func validMarkers(body string, markers []types.Marker) []types.Marker {
	valid := markers[:0:0]
	prev := 0
	for _, m := range markers {
		if m.Start < prev || m.End < m.Start || m.End > len(body) {
			continue
		}
		valid = append(valid, m)
		prev = m.End
	}
	return valid
}

// Byte index of the n-th rune.
func byteOffset(s string, n int) int {
	i := 0
	for pos := range s {
		if i == n {
			return pos
		}
		i++
	}
	return len(s)
}
