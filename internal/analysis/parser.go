package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

// ResultKind tells whether a Result was scraped from the reply or synthesized.
type ResultKind int

const (
	KindParsed ResultKind = iota
	KindFallback
)

const (
	defaultScore    = 0.5
	maxSectionItems = 3
)

var (
	fallbackStrengths   = []string{"Strong technical foundation", "Relevant experience background"}
	fallbackWeaknesses  = []string{"Some skill gaps to address", "Could benefit from additional training"}
	fallbackSuggestions = []string{"Continue developing relevant skills", "Build more experience in key areas"}

	scoreMarker = regexp.MustCompile(`(?i)score\s*\**\s*:`)
	numberToken = regexp.MustCompile(`-?\d+(?:\.\d+)?|-?\.\d+`)

	// words a header line may consist of when it carries no colon
	headerVocabulary = map[string]bool{
		"key": true, "main": true, "potential": true, "areas": true, "area": true, "for": true,
		"strength": true, "strengths": true, "weakness": true, "weaknesses": true,
		"improvement": true, "improvements": true, "suggestion": true, "suggestions": true,
		"recommendation": true, "recommendations": true,
	}
)

// Result is the structured suitability analysis returned to clients.
type Result struct {
	Score       float64    `json:"score"`
	Strengths   []string   `json:"strengths"`
	Weaknesses  []string   `json:"weaknesses"`
	Suggestions []string   `json:"suggestions"`
	Kind        ResultKind `json:"-"`
}

// FallbackResult is returned when nothing could be scraped from the reply.
func FallbackResult() Result {
	return Result{
		Score:       defaultScore,
		Strengths:   []string{"Profile shows potential for this role"},
		Weaknesses:  []string{"Some areas for improvement identified"},
		Suggestions: []string{"Focus on developing key job requirements"},
		Kind:        KindFallback,
	}
}

type section int

const (
	sectionNone section = iota
	sectionStrengths
	sectionWeaknesses
	sectionSuggestions
)

// Parse scrapes the bullet formatted reply. It never fails: missing pieces are replaced by
// fallbacks and an unrecognizable reply yields FallbackResult.
func Parse(raw string) Result {
	score, scoreFound := parseScore(raw)

	items := map[section][]string{}
	current := sectionNone
	for _, rawLine := range strings.Split(raw, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || scoreMarker.MatchString(line) {
			continue
		}

		text, bulleted := stripBullet(line)
		if header, remainder, ok := parseHeader(text); ok {
			current = header
			if remainder != "" {
				items[current] = appendItem(items[current], remainder)
			}
			continue
		}
		if !bulleted || current == sectionNone {
			continue
		}
		items[current] = appendItem(items[current], text)
	}

	if !scoreFound && len(items[sectionStrengths])+len(items[sectionWeaknesses])+len(items[sectionSuggestions]) == 0 {
		return FallbackResult()
	}

	return Result{
		Score:       score,
		Strengths:   orFallback(items[sectionStrengths], fallbackStrengths),
		Weaknesses:  orFallback(items[sectionWeaknesses], fallbackWeaknesses),
		Suggestions: orFallback(items[sectionSuggestions], fallbackSuggestions),
		Kind:        KindParsed,
	}
}

// parseScore takes the first number that follows a "score:" marker on the same line.
func parseScore(raw string) (float64, bool) {
	for _, line := range strings.Split(raw, "\n") {
		loc := scoreMarker.FindStringIndex(line)
		if loc == nil {
			continue
		}
		token := numberToken.FindString(line[loc[1]:])
		if token == "" {
			continue
		}
		value, err := strconv.ParseFloat(token, 64)
		if err != nil {
			continue
		}
		return clampScore(value), true
	}
	return defaultScore, false
}

func clampScore(value float64) float64 {
	switch {
	case value < 0:
		value = 0
	case value > 1:
		value = 1
	}
	return value
}

// stripBullet removes a leading bullet marker and reports whether one was present.
func stripBullet(line string) (string, bool) {
	for _, marker := range []string{"•", "-", "*"} {
		if strings.HasPrefix(line, marker) && !strings.HasPrefix(line, "**") {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	return line, false
}

// parseHeader recognizes section header lines such as "Strengths:", "**Weaknesses**" or
// "Suggestions: take a course". Any text after the colon is returned as the first item.
// Without a colon the line must be a bare label, so "Leadership strength" stays an item.
func parseHeader(text string) (section, string, bool) {
	label := text
	remainder := ""
	hasColon := false
	if idx := strings.Index(text, ":"); idx >= 0 {
		label = text[:idx]
		remainder = strings.TrimSpace(strings.Trim(text[idx+1:], "* "))
		hasColon = true
	}
	label = strings.ToLower(strings.Trim(label, "*#_ "))
	if label == "" || len(strings.Fields(label)) > 3 {
		return sectionNone, "", false
	}
	if !hasColon && !isBareLabel(label) {
		return sectionNone, "", false
	}

	switch {
	case strings.Contains(label, "strength"):
		return sectionStrengths, remainder, true
	case strings.Contains(label, "weakness"), strings.Contains(label, "improvement"):
		return sectionWeaknesses, remainder, true
	case strings.Contains(label, "suggestion"), strings.Contains(label, "recommendation"):
		return sectionSuggestions, remainder, true
	}
	return sectionNone, "", false
}

func isBareLabel(label string) bool {
	for _, word := range strings.Fields(label) {
		if !headerVocabulary[word] {
			return false
		}
	}
	return true
}

func appendItem(list []string, item string) []string {
	item = strings.TrimSpace(strings.Trim(item, "*"))
	if item == "" || len(list) >= maxSectionItems {
		return list
	}
	return append(list, item)
}

func orFallback(list, fallback []string) []string {
	if len(list) == 0 {
		return append([]string(nil), fallback...)
	}
	return list
}
