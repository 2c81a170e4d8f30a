package source

import "io"

// FilterTarget is the action a Filter rule takes when its glob
// matches, mirroring FILE_SOURCE_FILTER_ALLOW/DISCARD.
type FilterTarget int

const (
	FilterAllow FilterTarget = iota
	FilterDiscard
)

type filterRule struct {
	pattern string
	target  FilterTarget
}

// Filter wraps another Source and keeps or drops each record based on
// the first glob rule (in the order they were added) whose pattern
// matches the record's FullPath; records matching no rule at all are
// discarded, the same default-deny behavior as
// original_source/lib/imgtool/filesource/filter.c.
type Filter struct {
	wrapped Source
	rules   []filterRule
}

// NewFilter wraps wrapped in a Filter with no rules yet (which
// discards everything until rules are added).
func NewFilter(wrapped Source) *Filter {
	return &Filter{wrapped: wrapped}
}

// AddGlobRule appends a rule, matching file_source_filter_add_glob_rule.
func (f *Filter) AddGlobRule(pattern string, target FilterTarget) {
	f.rules = append(f.rules, filterRule{pattern: pattern, target: target})
}

func (f *Filter) GetNextRecord() (*Record, io.Reader, error) {
	for {
		rec, r, err := f.wrapped.GetNextRecord()
		if err != nil {
			return nil, nil, err
		}

		allowed := false
		matched := false
		for _, rule := range f.rules {
			if fnmatch(rule.pattern, rec.FullPath) {
				matched = true
				allowed = rule.target == FilterAllow
				break
			}
		}
		if matched && allowed {
			return rec, r, nil
		}

		if r != nil {
			io.Copy(io.Discard, r)
		}
	}
}

// fnmatch is a glob matcher equivalent to fnmatch(pattern, s, 0): "*"
// matches any run of characters including '/', "?" matches exactly one
// character, and "[...]" matches a character class (a leading "!" or
// "^" negates it). Go's path/filepath.Match refuses to let "*" or "?"
// cross a '/', which filter.c's fnmatch(..., 0) call never asked for,
// so this is a small bespoke matcher rather than a standard-library
// substitute.
func fnmatch(pattern, s string) bool {
	return fnmatchRec([]rune(pattern), []rune(s))
}

func fnmatchRec(pat, s []rune) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			for len(pat) > 1 && pat[1] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if fnmatchRec(pat[1:], s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(s) == 0 {
				return false
			}
			pat, s = pat[1:], s[1:]
		case '[':
			end := classEnd(pat)
			if end < 0 {
				if len(s) == 0 || s[0] != '[' {
					return false
				}
				pat, s = pat[1:], s[1:]
				continue
			}
			if len(s) == 0 || !matchClass(pat[1:end], s[0]) {
				return false
			}
			pat, s = pat[end+1:], s[1:]
		default:
			if len(s) == 0 || s[0] != pat[0] {
				return false
			}
			pat, s = pat[1:], s[1:]
		}
	}
	return len(s) == 0
}

// classEnd returns the index of the closing ']' of the class opening
// at pat[0], or -1 if pat contains no closing bracket.
func classEnd(pat []rune) int {
	i := 1
	if i < len(pat) && (pat[i] == '!' || pat[i] == '^') {
		i++
	}
	if i < len(pat) && pat[i] == ']' {
		i++
	}
	for i < len(pat) && pat[i] != ']' {
		i++
	}
	if i >= len(pat) {
		return -1
	}
	return i
}

func matchClass(body []rune, c rune) bool {
	negate := false
	if len(body) > 0 && (body[0] == '!' || body[0] == '^') {
		negate = true
		body = body[1:]
	}
	matched := false
	for i := 0; i < len(body); i++ {
		if i+2 < len(body) && body[i+1] == '-' {
			if body[i] <= c && c <= body[i+2] {
				matched = true
			}
			i += 2
			continue
		}
		if body[i] == c {
			matched = true
		}
	}
	return matched != negate
}
