package textpipe

import (
	"regexp"
	"strings"
)

var (
	reEmptyBrackets = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
	reMultiSpace    = regexp.MustCompile(`[ \t]{2,}`)
	reSpaceBefore   = regexp.MustCompile(`\s+([,.;:)\]}])`)
	reSpaceAfter    = regexp.MustCompile(`([(\[{])\s+`)
	reLeadingPunct  = regexp.MustCompile(`(?m)^[\t ]*[,.;:]\s*`)
	reTrailingWS    = regexp.MustCompile(`(?m)[ \t]+$`)
	reBlankRuns     = regexp.MustCompile(`\n{3,}`)

	// RE2 has no backreferences, so duplicated terminal punctuation is
	// collapsed per character.
	reDupPunct = []*regexp.Regexp{
		regexp.MustCompile(`,\s*,+`),
		regexp.MustCompile(`\.\s*\.+`),
		regexp.MustCompile(`;\s*;+`),
		regexp.MustCompile(`:\s*:+`),
	}
	dupPunctRepl = []string{",", ".", ";", ":"}

	reEmptyContent  = regexp.MustCompile(`^[ \t*]*$`)
	reBulletOnly    = regexp.MustCompile(`^[ \t]*[-*+•][ \t]*$`)
	reBulletContent = regexp.MustCompile(`^[ \t]*[-*+•]\s+(.*)$`)
)

// removeEmptyBrackets strips (), [] and {} pairs, repeating until stable so
// nested empties collapse.
func removeEmptyBrackets(text string) string {
	for {
		next := reEmptyBrackets.ReplaceAllString(text, "")
		if next == text {
			return text
		}
		text = next
	}
}

// cleanupPunctuation collapses runs of spaces, fixes whitespace around
// punctuation and brackets, and caps consecutive blank lines at two.
func cleanupPunctuation(text string) string {
	text = reMultiSpace.ReplaceAllString(text, " ")
	text = reSpaceBefore.ReplaceAllString(text, "$1")
	text = reSpaceAfter.ReplaceAllString(text, "$1")
	for i, re := range reDupPunct {
		text = re.ReplaceAllString(text, dupPunctRepl[i])
	}
	text = reLeadingPunct.ReplaceAllString(text, "")
	text = reTrailingWS.ReplaceAllString(text, "")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return text
}

// dropEmptyLines removes lines whose content after cleanup is empty or a
// solitary list marker, then caps blank runs at two.
func dropEmptyLines(text string) string {
	isEmptyContent := func(value string) bool {
		return reEmptyContent.MatchString(removeEmptyBrackets(value))
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		raw := strings.TrimRight(line, " \t")
		stripped := strings.TrimSpace(raw)
		if stripped == "" {
			out = append(out, "")
			continue
		}
		if reBulletOnly.MatchString(raw) {
			continue
		}
		if m := reBulletContent.FindStringSubmatch(raw); m != nil {
			content := m[1]
			if isEmptyContent(content) {
				continue
			}
			if strings.TrimSpace(removeEmptyBrackets(content)) == "" {
				continue
			}
			out = append(out, raw)
			continue
		}
		if isEmptyContent(stripped) {
			continue
		}
		if strings.TrimSpace(removeEmptyBrackets(stripped)) == "" {
			continue
		}
		out = append(out, raw)
	}

	return reBlankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
}
