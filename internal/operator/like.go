package operator

import (
	"regexp"
)

// regexpQuote escapes r so it is matched literally inside the regexp
// built by compileLike.
func regexpQuote(r rune) string {
	return regexp.QuoteMeta(string(r))
}

// mustCompileAnchored compiles an already-anchored regexp pattern
// (produced by compileLike) into a matcher, folding case when
// caseInsensitive is set. LIKE patterns are build-time constants or
// bound parameters validated by the AST layer, so a compile failure
// here indicates a programmer error in pattern translation, not bad
// user input.
func mustCompileAnchored(pattern string, caseInsensitive bool) func(string) bool {
	if caseInsensitive {
		pattern = "(?is)" + pattern
	} else {
		pattern = "(?s)" + pattern
	}
	re := regexp.MustCompile(pattern)
	return re.MatchString
}
