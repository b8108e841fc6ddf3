package inference

import (
	"encoding/json"
	"strings"
)

// fallbackConfidence is assigned when a positive is synthesized from
// keywords alone. Low but non-zero: missing a survivor is costlier than a
// false alarm, so unparseable responses lean positive rather than failing.
const fallbackConfidence = 0.3

// personKeywords trigger the recall-biased fallback when no structured
// object can be extracted from a provider response.
var personKeywords = []string{"person", "human", "people", "individual", "body", "someone"}

// rawAnalysis covers the field names both providers emit. Pointers
// distinguish absent fields from explicit false/zero.
type rawAnalysis struct {
	// Quick (per-frame) analysis fields.
	PersonDetected      *bool    `json:"person_detected"`
	PersonCentered      *bool    `json:"person_centered"`
	TargetReady         *bool    `json:"target_ready"`
	Confidence          *float64 `json:"confidence"`
	PositionDescription string   `json:"position_description"`

	// Deep (per-segment) analysis fields.
	SurvivorsDetected   *bool      `json:"survivors_detected"`
	SurvivorCount       *int       `json:"survivor_count"`
	DetailedDescription string     `json:"detailed_description"`
	SurvivorDetails     []Survivor `json:"survivor_details"`
	RescuePriority      string     `json:"rescue_priority"`
	RecommendedAction   string     `json:"recommended_action"`
}

// Canonicalize turns a raw provider response into the canonical Result.
// Three stages: strict JSON decode (markdown fences stripped), then the
// first well-formed embedded JSON object in the free text, then a keyword
// fallback that synthesizes a low-confidence positive. It never fails hard.
func Canonicalize(text string, phase SourcePhase) Result {
	cleaned := stripFences(text)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleaned), &raw); err == nil {
		return normalize(raw, text, phase)
	}

	if obj, ok := extractObject(cleaned); ok {
		if err := json.Unmarshal([]byte(obj), &raw); err == nil {
			return normalize(raw, text, phase)
		}
	}

	return keywordFallback(text, phase)
}

func normalize(raw rawAnalysis, text string, phase SourcePhase) Result {
	res := Result{
		Description: text,
		Survivors:   raw.SurvivorDetails,
		Urgency:     raw.RescuePriority,
		Phase:       phase,
	}

	if raw.PersonDetected != nil {
		res.Detected = *raw.PersonDetected
	}
	if raw.SurvivorsDetected != nil {
		res.Detected = res.Detected || *raw.SurvivorsDetected
	}
	if raw.PersonCentered != nil {
		res.Centered = *raw.PersonCentered
	}
	if raw.Confidence != nil {
		res.Confidence = clamp01(*raw.Confidence)
	}
	if raw.PositionDescription != "" {
		res.Description = raw.PositionDescription
	}
	if raw.DetailedDescription != "" {
		res.Description = raw.DetailedDescription
	}

	switch {
	case raw.SurvivorCount != nil && *raw.SurvivorCount > 0:
		res.Count = *raw.SurvivorCount
	case len(raw.SurvivorDetails) > 0:
		res.Count = len(raw.SurvivorDetails)
	case res.Detected:
		res.Count = 1
	}

	return res
}

func keywordFallback(text string, phase SourcePhase) Result {
	lower := strings.ToLower(text)
	detected := false
	for _, kw := range personKeywords {
		if strings.Contains(lower, kw) {
			detected = true
			break
		}
	}

	res := Result{
		Detected:    detected,
		Description: text,
		Phase:       phase,
	}
	if detected {
		res.Count = 1
		res.Confidence = fallbackConfidence
		res.Urgency = "medium"
	}
	return res
}

// stripFences removes markdown code fences some providers wrap JSON in.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// extractObject finds the first balanced top-level JSON object embedded in
// free text. Brace counting respects string literals and escapes.
func extractObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, c := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					start = -1
				}
			}
		}
	}
	return "", false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
