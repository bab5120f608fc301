package filter

import "strings"

// splitOptions splits "pattern$opt1,opt2" into its pattern and the raw
// comma-separated option list. A rule with no '$' returns body unchanged
// and an empty option string. The '$' inside a regex pattern ("/.../ ")
// is not treated as an option separator.
func splitOptions(raw string) (pattern, options string) {
	if strings.HasPrefix(raw, "/") && strings.HasSuffix(raw, "/") {
		return raw, ""
	}
	idx := strings.LastIndexByte(raw, '$')
	if idx < 0 {
		return raw, ""
	}
	return raw[:idx], raw[idx+1:]
}

// wildcardToRegex translates a uBlock-style wildcard pattern ('*' = any
// run of characters, everything else literal) into an equivalent regex
// source, anchored as requested by the caller.
func wildcardToRegex(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(quoteMetaRune(r))
	}
	return b.String()
}

// quoteMetaRune escapes r if it is a regex metacharacter, else returns it
// verbatim. Kept rune-at-a-time so callers can interleave literal runs
// with the unescaped ".*" wildcard expansion above.
func quoteMetaRune(r rune) string {
	switch r {
	case '.', '+', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
		return "\\" + string(r)
	default:
		return string(r)
	}
}

// requiredSubstring extracts the longest literal run from a wildcard or
// regex-ish pattern, used as a cheap pre-filter before evaluating the
// compiled regular expression against a candidate URL.
func requiredSubstring(pattern string) string {
	longest := ""
	var cur strings.Builder
	flush := func() {
		if cur.Len() > len(longest) {
			longest = cur.String()
		}
		cur.Reset()
	}
	for _, r := range pattern {
		if r == '*' {
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return longest
}
