// Package matcher pairs NSE symbols with BSE scrip codes by joining the two
// exchanges' company listings on a normalised company name.
package matcher

import (
	"regexp"
	"strings"
)

var (
	corpSuffixRe = regexp.MustCompile(`[\s\p{Zs}]+(LTD|LIMITED|PVT|PRIVATE|CORP|CORPORATION|INC|INCORPORATED)(\.)?$`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9\s\p{Zs}]`)
	spaceRe      = regexp.MustCompile(`[\s\p{Zs}]+`)
)

// CleanName normalises a company name into a join key:
// upper-case, one trailing corporate suffix dropped, '&' spelled AND,
// punctuation removed, whitespace (Unicode spaces included) collapsed.
func CleanName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = corpSuffixRe.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "&", "AND")
	name = nonAlnumRe.ReplaceAllString(name, "")
	name = spaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
