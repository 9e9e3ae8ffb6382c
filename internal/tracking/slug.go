// Package tracking issues deep links for campaign tags, decodes start
// payloads, and aggregates the resulting event ledger.
package tracking

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/packsmith/backend/internal/core"
)

const maxSlugLen = 50

var (
	reSlugSeparators = regexp.MustCompile(`[\s_]+`)
	reSlugInvalid    = regexp.MustCompile(`[^a-z0-9-]`)
	reSlugCollapse   = regexp.MustCompile(`-{2,}`)
	reSlugValid      = regexp.MustCompile(`^[a-z0-9-]+$`)

	asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// DeriveSlug folds a tag to a URL-safe slug: ASCII folding, lowercasing,
// separator runs to hyphens, invalid characters stripped, hyphen runs
// collapsed, trimmed and capped at 50. An empty result falls back to
// "link-<md5 prefix>".
func DeriveSlug(tag string) string {
	folded := tag
	if out, _, err := transform.String(asciiFold, tag); err == nil {
		folded = out
	}
	s := strings.ToLower(folded)
	s = reSlugSeparators.ReplaceAllString(s, "-")
	s = reSlugInvalid.ReplaceAllString(s, "")
	s = reSlugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		sum := md5.Sum([]byte(tag))
		s = "link-" + hex.EncodeToString(sum[:])[:8]
	}
	return s
}

// ValidateSlug checks an explicitly supplied slug.
func ValidateSlug(slug string) error {
	if slug == "" {
		return core.NewError(core.InputInvalid, "slug is empty")
	}
	if len(slug) > maxSlugLen {
		return core.NewError(core.InputInvalid,
			fmt.Sprintf("slug exceeds %d characters", maxSlugLen))
	}
	if !reSlugValid.MatchString(slug) || strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
		return core.NewError(core.InputInvalid,
			"slug must be lowercase letters, digits and inner hyphens")
	}
	return nil
}

// NumberedSlug appends a collision counter: "promo" -> "promo-2".
func NumberedSlug(slug string, n int) string {
	suffix := fmt.Sprintf("-%d", n)
	if len(slug)+len(suffix) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen-len(suffix)], "-")
	}
	return slug + suffix
}
