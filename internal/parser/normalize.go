package parser

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	languageAlternation  = `English|German|French|Italian|Spanish|Portuguese|Japanese|Chinese|Korean`
	conditionAlternation = `MT|NM|EX|GD|LP|PL|PO|HP|DMG|Mint|Near Mint|Excellent|Good|Lightly Played|Light Played|Played|Heavily Played|Poor|Damaged`
)

var (
	trailingPriceRe     = regexp.MustCompile(`\s*\d+(?:[.,]\d+)*\s*(?:EUR|€)\s*$`)
	trailingGradeRe     = regexp.MustCompile(`(?i)\s*-\s*[^-]+?\s*-\s*(?:` + languageAlternation + `)\s*-\s*(?:` + conditionAlternation + `)\s*$`)
	trailingLanguageRe  = regexp.MustCompile(`(?i)\s*-\s*(?:` + languageAlternation + `)\s*$`)
	trailingPipeParenRe = regexp.MustCompile(`\s*\([^()]*\|[^()]*\)\s*$`)
	trailingEllipsisRe  = regexp.MustCompile(`\s*\([^()]*(?:\.\.\.|…)[^()]*\)?\s*$`)
	trailingParenRe     = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)
	trailingPunctRe     = regexp.MustCompile(`[,;:.\-]+$`)
	languageCodeTagRe   = regexp.MustCompile(`(?i)\s*[(\[].*(?:EN|DE|FR|IT|ES|PT|JA).*[)\]]`)
	conditionCodeTagRe  = regexp.MustCompile(`(?i)\s*[(\[].*(?:NM|EX|GD|LP|PL|HP|DMG).*[)\]]`)
	conditionWordTagRe  = regexp.MustCompile(`(?i)\s*[(\[].*(?:Near Mint|Excellent|Good|Light Played|Played|Heavily Played|Damaged).*[)\]]`)
	wordRe              = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// cleanStage is one step of the name pipeline. Stages only ever remove text.
type cleanStage func(string) string

var cleanPipeline = []cleanStage{
	collapseWhitespace,
	stripWith(trailingPriceRe),
	stripWith(trailingGradeRe),
	stripWith(trailingLanguageRe),
	stripWith(trailingPipeParenRe),
	stripWith(trailingEllipsisRe),
	stripRedundantParenthetical,
	stripTrailingPunctuation,
	stripWith(languageCodeTagRe),
	stripWith(conditionCodeTagRe),
	stripWith(conditionWordTagRe),
}

// CleanName strips prices, grading suffixes and set annotations from a raw
// item description. The pipeline is re-applied until the name stops changing,
// so CleanName(CleanName(x)) == CleanName(x).
func CleanName(raw string) string {
	name := raw
	for {
		next := name
		for _, stage := range cleanPipeline {
			next = stage(next)
		}
		next = strings.TrimSpace(next)
		if next == name {
			return name
		}
		name = next
	}
}

func stripWith(re *regexp.Regexp) cleanStage {
	return func(s string) string {
		return strings.TrimSpace(re.ReplaceAllString(s, ""))
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripTrailingPunctuation(s string) string {
	return strings.TrimSpace(trailingPunctRe.ReplaceAllString(s, ""))
}

// stripRedundantParenthetical drops "(Foo Bar)" from "Foo Bar Baz (Foo Bar)"
// when every word longer than two characters already occurs before it.
func stripRedundantParenthetical(s string) string {
	m := trailingParenRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	prefix, inner := m[1], m[2]

	known := make(map[string]bool)
	for _, w := range wordRe.FindAllString(prefix, -1) {
		known[strings.ToLower(w)] = true
	}

	checked := 0
	for _, w := range wordRe.FindAllString(inner, -1) {
		if len([]rune(w)) <= 2 {
			continue
		}
		if !known[strings.ToLower(w)] {
			return s
		}
		checked++
	}
	if checked == 0 {
		return s
	}
	return strings.TrimSpace(prefix)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
