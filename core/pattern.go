package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"watchtower/metrics"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrRegexTimeout is returned when a pattern exceeds its match budget
var ErrRegexTimeout = errors.New("regex evaluation timeout")

// PatternMatcher evaluates rule field patterns with backtracking limits.
// Compiled patterns are kept in a bounded LRU keyed by pattern text.
type PatternMatcher struct {
	timeout time.Duration
	cache   *lru.Cache[string, *regexp2.Regexp]
}

// NewPatternMatcher creates a matcher. Non-positive arguments fall back to
// DefaultRegexTimeout and a 512 entry cache.
func NewPatternMatcher(timeout time.Duration, cacheSize int) *PatternMatcher {
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	if cacheSize <= 0 {
		cacheSize = 512
	}
	cache, _ := lru.New[string, *regexp2.Regexp](cacheSize)
	return &PatternMatcher{timeout: timeout, cache: cache}
}

// Compile checks that pattern is a valid expression and caches it
func (m *PatternMatcher) Compile(pattern string) error {
	_, err := m.compiled(pattern)
	return err
}

// Match reports whether input matches pattern
func (m *PatternMatcher) Match(pattern, input string) (bool, error) {
	re, err := m.compiled(pattern)
	if err != nil {
		return false, err
	}
	ok, err := re.MatchString(input)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			metrics.RegexTimeouts.Inc()
			return false, ErrRegexTimeout
		}
		return false, fmt.Errorf("regex matching error: %w", err)
	}
	return ok, nil
}

func (m *PatternMatcher) compiled(pattern string) (*regexp2.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern cannot be empty")
	}
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp2.Compile(pattern, regexp2.RE2)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}
	re.MatchTimeout = m.timeout
	m.cache.Add(pattern, re)
	return re, nil
}
