package extractor

import "webextract/internal/pkg/types"

const (
	WarnShortContent     = "short_content"
	WarnLowScore         = "low_extraction_score"
	WarnEmptyContent     = "empty_content"
	WarnBodyFallback     = "body_fallback"
	WarnContentTruncated = "content_truncated"
	// The response body hit the download limit before extraction.
	WarnBodyTruncated    = "body_truncated"

	// LowScoreThreshold is the score below which a result is flagged.
	LowScoreThreshold = 0.4
	shortContentWords = 50
)

// Score rates how much usable structure an extraction produced, in [0, 1].
func Score(r *types.ExtractionResult) float64 {
	wc := r.WordCount
	score := 0.0

	switch {
	case wc > 50:
		score += 0.3
	case wc > 20:
		score += 0.15
	}

	if r.PublishedAt != "" {
		score += 0.1
	}
	if r.Author != "" {
		score += 0.05
	}
	if r.Description != "" || r.OGDescription != "" {
		score += 0.05
	}

	if len(r.CodeBlocks) > 0 {
		score += 0.2
	}

	switch {
	case len(r.Headings) > 2:
		score += 0.15
	case len(r.Headings) >= 1:
		score += 0.075
	}

	// Length saturates between 500 and 2000 words.
	switch {
	case wc >= 500 && wc <= 2000:
		score += 0.15
	case wc > 2000:
		score += 0.15 * 2000 / float64(wc)
	case wc > 100:
		score += 0.15 * float64(wc) / 500
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Warnings lists the quality flags for a scored result.
func Warnings(r *types.ExtractionResult, bodyFallback bool) []string {
	warnings := make([]string, 0, 3)
	if r.WordCount == 0 {
		warnings = append(warnings, WarnEmptyContent)
	}
	if r.WordCount < shortContentWords {
		warnings = append(warnings, WarnShortContent)
	}
	if r.Score < LowScoreThreshold {
		warnings = append(warnings, WarnLowScore)
	}
	if bodyFallback {
		warnings = append(warnings, WarnBodyFallback)
	}
	return warnings
}
