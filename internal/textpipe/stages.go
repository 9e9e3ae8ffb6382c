package textpipe

import (
	"regexp"
	"sort"
	"strings"
)

// Built-in stage names, in canonical order.
const (
	StagePreflight      = "preflight-stats"
	StageLLMArtifacts   = "llm-artifacts"
	StageReferenceLinks = "reference-links"
	StageTypography     = "typography"
	StageFinalCleanup   = "final-cleanup"
)

var (
	reDashes  = regexp.MustCompile(`[\x{2012}\x{2013}\x{2014}\x{2015}\x{2212}]`)
	reQuotes  = regexp.MustCompile(`[\x{00AB}\x{00BB}\x{2018}-\x{201F}\x{2039}\x{203A}]`)
	reBullets = regexp.MustCompile(`(?m)^[\s\t]*([\x{2022}\x{2023}\x{25E6}\x{2043}\x{2219}\-\x{2013}\x{2014}])\s+`)
	reNBSP    = regexp.MustCompile(`\x{00A0}`)
)

// PreflightStage records how many machine-typography artifacts the input
// carries before anything is rewritten.
type PreflightStage struct{}

func (s *PreflightStage) Name() string { return StagePreflight }

func (s *PreflightStage) Apply(ctx *Context) {
	text := ctx.Text
	ctx.SetStat("dashes", len(reDashes.FindAllString(text, -1)))
	ctx.SetStat("quotes", len(reQuotes.FindAllString(text, -1)))
	ctx.SetStat("bullets", len(reBullets.FindAllString(text, -1)))
	ctx.SetStat("nbsp", len(reNBSP.FindAllString(text, -1)))
}

const turnTypes = "search|click|fetch|view|news|image|product|sports|finance|forecast|time|maps|calc|translate|msearch|mclick"

var (
	turnTokenPattern = `\bturn\d+(?:` + turnTypes + `)\d+\b`
	reTurnToken      = regexp.MustCompile(`(?i)` + turnTokenPattern)
	reTurnSeq        = regexp.MustCompile(`(?i)(?:` + turnTokenPattern + `)(?:\s+(?:` + turnTokenPattern + `))*`)
	reCiteSeq        = regexp.MustCompile(`(?i)\bcite\b(?:\s+` + turnTokenPattern + `)+`)
)

// LLMArtifactsStage removes machine-citation debris: turn tokens, "cite"
// runs, and whole bracketed groups that contain a marker anywhere inside.
type LLMArtifactsStage struct{}

func (s *LLMArtifactsStage) Name() string { return StageLLMArtifacts }

func (s *LLMArtifactsStage) Apply(ctx *Context) {
	for _, key := range []string{"llm_tokens", "llm_cite", "llm_bracket_groups"} {
		if _, ok := ctx.Stats[key]; !ok {
			ctx.SetStat(key, 0)
		}
	}

	text := ctx.Text
	text, groups := removeMarkedBracketGroups(text)
	if groups > 0 {
		ctx.AddStat("llm_bracket_groups", groups)
	}

	if n := len(reCiteSeq.FindAllString(text, -1)); n > 0 {
		text = reCiteSeq.ReplaceAllString(text, "")
		ctx.AddStat("llm_cite", n)
	}
	if n := len(reTurnSeq.FindAllString(text, -1)); n > 0 {
		text = reTurnSeq.ReplaceAllString(text, "")
		ctx.AddStat("llm_tokens", n)
	}

	text = cleanupPunctuation(text)
	// Second pass: cleanup can join fragments into fresh token matches.
	text = reTurnSeq.ReplaceAllString(text, "")
	text = removeEmptyBrackets(text)
	text = cleanupPunctuation(text)
	text = dropEmptyLines(text)
	ctx.SetText(text)
}

// removeMarkedBracketGroups drops every (), [] or {} group whose contents,
// nested groups included, carry a citation marker. A stack-based scan marks
// the innermost enclosing group and propagates the marker outward, so the
// widest enclosing group is removed.
func removeMarkedBracketGroups(s string) (string, int) {
	type frame struct {
		open   byte
		pos    int
		marker bool
	}
	closeFor := map[byte]byte{')': '(', ']': '[', '}': '{'}

	var stack []frame
	var removable [][2]int
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', '[', '{':
			stack = append(stack, frame{open: c, pos: i})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].open != closeFor[c] {
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			inner := s[top.pos+1 : i]
			marked := top.marker ||
				reCiteSeq.MatchString(inner) ||
				reTurnToken.MatchString(inner)
			if marked {
				removable = append(removable, [2]int{top.pos, i})
			}
			if len(stack) > 0 {
				stack[len(stack)-1].marker = stack[len(stack)-1].marker || marked
			}
		}
	}
	if len(removable) == 0 {
		return s, 0
	}

	sort.Slice(removable, func(i, j int) bool {
		if removable[i][0] != removable[j][0] {
			return removable[i][0] < removable[j][0]
		}
		return removable[i][1] < removable[j][1]
	})
	var merged [][2]int
	for _, r := range removable {
		if len(merged) == 0 || r[0] > merged[len(merged)-1][1]+1 {
			merged = append(merged, r)
		} else if r[1] > merged[len(merged)-1][1] {
			merged[len(merged)-1][1] = r[1]
		}
	}

	var b strings.Builder
	last := 0
	for _, r := range merged {
		b.WriteString(s[last:r[0]])
		last = r[1] + 1
	}
	b.WriteString(s[last:])
	return b.String(), len(merged)
}

var (
	reReferenceLink = regexp.MustCompile(`\[([^\]]+)\]\s*\[([^\]]+)\]`)
	reDomainLike    = regexp.MustCompile(`(?i)^(?:https?://)?(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}(?:[^\s]*)?$`)
)

// ReferenceLinksStage rewrites reference-style Markdown links whose label
// definition is missing: domain-looking text becomes a plain https URL,
// anything else is flattened to the link text.
type ReferenceLinksStage struct{}

func (s *ReferenceLinksStage) Name() string { return StageReferenceLinks }

func (s *ReferenceLinksStage) Apply(ctx *Context) {
	text := ctx.Text
	matches := reReferenceLink.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return
	}

	defined := make(map[string]bool)
	for _, m := range matches {
		label := text[m[4]:m[5]]
		if defined[label] {
			continue
		}
		pattern := `(?m)^\s*\[` + regexp.QuoteMeta(label) + `\]\s*:\s*\S+`
		if regexp.MustCompile(pattern).MatchString(text) {
			defined[label] = true
		}
	}

	converted := 0
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		label := text[m[4]:m[5]]
		if defined[label] {
			continue
		}
		inner := text[m[2]:m[3]]
		content := strings.Trim(inner, " \t\n\r\f\v(),.;:!?'\"")
		var replacement string
		if content != "" && reDomainLike.MatchString(content) {
			if strings.HasPrefix(content, "http://") || strings.HasPrefix(content, "https://") {
				replacement = content
			} else {
				replacement = "https://" + content
			}
		} else {
			replacement = inner
		}
		text = text[:m[0]] + replacement + text[m[1]:]
		converted++
	}

	if converted > 0 {
		ctx.SetText(cleanupPunctuation(text))
		ctx.AddStat("reference_links", converted)
	}
}

// TypographyStage substitutes machine typography with plain ASCII: dash
// variants, curly quotes, bullet markers and non-breaking spaces.
type TypographyStage struct{}

func (s *TypographyStage) Name() string { return StageTypography }

func (s *TypographyStage) Apply(ctx *Context) {
	text := ctx.Text
	text = reDashes.ReplaceAllString(text, "-")
	text = reQuotes.ReplaceAllString(text, `"`)
	text = reBullets.ReplaceAllString(text, "- ")
	text = reNBSP.ReplaceAllString(text, " ")
	text = removeEmptyBrackets(text)
	text = cleanupPunctuation(text)
	text = dropEmptyLines(text)
	ctx.SetText(text)
}

// FinalCleanupStage makes a last pass over brackets, spacing and empty
// lines.
type FinalCleanupStage struct{}

func (s *FinalCleanupStage) Name() string { return StageFinalCleanup }

func (s *FinalCleanupStage) Apply(ctx *Context) {
	text := removeEmptyBrackets(ctx.Text)
	text = cleanupPunctuation(text)
	text = dropEmptyLines(text)
	ctx.SetText(text)
}
