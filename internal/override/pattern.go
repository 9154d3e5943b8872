package override

import (
	"regexp"
	"strings"
)

// pattern is a compiled override-rule key: an exact name or a glob where
// '*' matches any run of characters.
type pattern struct {
	source    string
	exact     bool
	wildcards int
	// literalPrefix is the run of literal characters before the first '*'.
	literalPrefix string
	re            *regexp.Regexp
}

// compilePattern translates a rule key into a matcher.
func compilePattern(source string) pattern {
	p := pattern{
		source:    source,
		wildcards: strings.Count(source, "*"),
	}
	if p.wildcards == 0 {
		p.exact = true
		p.literalPrefix = source
		return p
	}

	if idx := strings.IndexByte(source, '*'); idx >= 0 {
		p.literalPrefix = source[:idx]
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, part := range strings.Split(source, "*") {
		sb.WriteString(regexp.QuoteMeta(part))
		sb.WriteString(".*")
	}
	expr := strings.TrimSuffix(sb.String(), ".*") + "$"
	p.re = regexp.MustCompile(expr)
	return p
}

// matches reports whether name is covered by the pattern.
func (p pattern) matches(name string) bool {
	if p.exact {
		return p.source == name
	}
	return p.re.MatchString(name)
}

// moreSpecificThan orders patterns for rule application: exact beats glob,
// fewer wildcards beat more, a longer literal prefix beats a shorter one.
// Ties break lexicographically so compilation is deterministic.
func (p pattern) moreSpecificThan(other pattern) bool {
	if p.exact != other.exact {
		return p.exact
	}
	if p.wildcards != other.wildcards {
		return p.wildcards < other.wildcards
	}
	if len(p.literalPrefix) != len(other.literalPrefix) {
		return len(p.literalPrefix) > len(other.literalPrefix)
	}
	return p.source < other.source
}

// intersects reports whether some name matches both patterns. Used for
// conflict diagnostics only, so globs are compared symbolically.
func (p pattern) intersects(other pattern) bool {
	return globsIntersect(p.source, other.source)
}

// globsIntersect decides whether two '*'-globs share any matching string.
func globsIntersect(a, b string) bool {
	memo := make(map[[2]int]bool)
	var walk func(i, j int) bool
	walk = func(i, j int) bool {
		key := [2]int{i, j}
		if v, ok := memo[key]; ok {
			return v
		}
		var res bool
		switch {
		case i == len(a) && j == len(b):
			res = true
		case i < len(a) && a[i] == '*':
			// '*' absorbs zero or more characters of b's remainder.
			res = walk(i+1, j) || (j < len(b) && walk(i, j+1))
		case j < len(b) && b[j] == '*':
			res = walk(i, j+1) || (i < len(a) && walk(i+1, j))
		case i < len(a) && j < len(b) && a[i] == b[j]:
			res = walk(i+1, j+1)
		default:
			res = false
		}
		memo[key] = res
		return res
	}
	return walk(0, 0)
}
