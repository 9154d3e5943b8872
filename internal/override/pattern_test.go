package override

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		name    string
		want    bool
	}{
		{"memory__check", "memory__check", true},
		{"memory__check", "memory__check_embedding_mode", false},
		{"memory__*", "memory__check", true},
		{"memory__*", "github__check", false},
		{"*__delete_*", "github__delete_repo", true},
		{"*__delete_*", "github__create_repo", false},
		{"*", "anything", true},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "acb", false},
	}
	for _, tt := range tests {
		p := compilePattern(tt.pattern)
		assert.Equal(t, tt.want, p.matches(tt.name), "%s vs %s", tt.pattern, tt.name)
	}
}

func TestSpecificityOrdering(t *testing.T) {
	exact := compilePattern("memory__check")
	oneStar := compilePattern("memory__*")
	twoStars := compilePattern("*__check*")
	shortPrefix := compilePattern("m*")

	assert.True(t, exact.moreSpecificThan(oneStar))
	assert.False(t, oneStar.moreSpecificThan(exact))
	assert.True(t, oneStar.moreSpecificThan(twoStars))
	assert.True(t, oneStar.moreSpecificThan(shortPrefix), "longer literal prefix wins")
}

func TestGlobsIntersect(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"memory__*", "*__check", true},    // memory__check matches both
		{"memory__*", "github__*", false},  // disjoint literal prefixes
		{"a*", "*b", true},                 // "ab"
		{"abc", "abc", true},               // identical exacts
		{"abc", "abd", false},              // distinct exacts
		{"a*c", "ab*", true},               // "abc"
		{"memory__check", "memory__*", true},
		{"x*y", "z*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, globsIntersect(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
		assert.Equal(t, tt.want, globsIntersect(tt.b, tt.a), "symmetric: %s vs %s", tt.b, tt.a)
	}
}
