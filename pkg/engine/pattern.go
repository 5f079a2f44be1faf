package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// regexPrefix marks a pattern as a regular expression.
const regexPrefix = "regex:"

// PatternKind identifies the variant of a Pattern.
type PatternKind int

const (
	// PatternExact matches an instance name in any project.
	PatternExact PatternKind = iota

	// PatternScoped matches an instance name within one project ("project/name").
	PatternScoped

	// PatternRegex matches instance names with a prefix-anchored regular expression,
	// optionally restricted to one project ("regex:project/pattern").
	PatternRegex
)

// String returns the kind name.
func (k PatternKind) String() string {
	switch k {
	case PatternExact:
		return "exact"
	case PatternScoped:
		return "scoped"
	case PatternRegex:
		return "regex"
	default:
		return "unknown"
	}
}

// projectScopeRe is the shape a project scope must have for "regex:project/pattern".
var projectScopeRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Pattern is one entry of an ordered exclude list.
type Pattern struct {
	raw     string
	kind    PatternKind
	project string
	name    string
	re      *regexp.Regexp
}

// ParseNamePattern parses an exclude_names entry.
//
//	vm1                  exact name, any project
//	proj/vm1             exact name within proj
//	regex:^web-\d+       prefix-anchored regex, any project
//	regex:proj/^web-\d+  prefix-anchored regex within proj
func ParseNamePattern(s string) (Pattern, error) {
	if rest, ok := strings.CutPrefix(s, regexPrefix); ok {
		project := ""
		if scope, expr, found := strings.Cut(rest, "/"); found && projectScopeRe.MatchString(scope) {
			project, rest = scope, expr
		}
		re, err := compileAnchored(rest)
		if err != nil {
			return Pattern{}, NewFilterPatternError(fmt.Sprintf("invalid exclude pattern %q", s), err).
				WithCode(ErrCodeInvalidRegex)
		}
		return Pattern{raw: s, kind: PatternRegex, project: project, re: re}, nil
	}

	if project, name, found := strings.Cut(s, "/"); found {
		return Pattern{raw: s, kind: PatternScoped, project: project, name: name}, nil
	}

	return Pattern{raw: s, kind: PatternExact, name: s}, nil
}

// ParseProjectPattern parses an exclude_projects entry: a literal project name,
// or "regex:<expr>" matched prefix-anchored against the project name.
func ParseProjectPattern(s string) (Pattern, error) {
	if rest, ok := strings.CutPrefix(s, regexPrefix); ok {
		re, err := compileAnchored(rest)
		if err != nil {
			return Pattern{}, NewFilterPatternError(fmt.Sprintf("invalid exclude project pattern %q", s), err).
				WithCode(ErrCodeInvalidRegex)
		}
		return Pattern{raw: s, kind: PatternRegex, re: re}, nil
	}
	return Pattern{raw: s, kind: PatternExact, name: s}, nil
}

// MustParseNamePattern is like ParseNamePattern but panics on error.
func MustParseNamePattern(s string) Pattern {
	p, err := ParseNamePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// MustParseProjectPattern is like ParseProjectPattern but panics on error.
func MustParseProjectPattern(s string) Pattern {
	p, err := ParseProjectPattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

// compileAnchored compiles expr so that it only matches at the start of the input.
func compileAnchored(expr string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(expr); err != nil {
		return nil, err
	}
	return regexp.Compile(`^(?:` + expr + `)`)
}

// Kind returns the pattern variant.
func (p Pattern) Kind() PatternKind {
	return p.kind
}

// String returns the pattern as written in the configuration.
func (p Pattern) String() string {
	return p.raw
}

// Matches reports whether the pattern matches an instance name in a project.
func (p Pattern) Matches(name, project string) bool {
	switch p.kind {
	case PatternExact:
		return name == p.name
	case PatternScoped:
		return project == p.project && name == p.name
	case PatternRegex:
		if p.project != "" && project != p.project {
			return false
		}
		return p.re.MatchString(name)
	default:
		return false
	}
}

// MatchesProject reports whether a project pattern matches a project name.
func (p Pattern) MatchesProject(project string) bool {
	switch p.kind {
	case PatternRegex:
		return p.re.MatchString(project)
	default:
		return project == p.raw
	}
}

// MarshalJSON renders the pattern as written.
func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw)
}

// MarshalYAML renders the pattern as written.
func (p Pattern) MarshalYAML() (interface{}, error) {
	return p.raw, nil
}

// FirstMatch returns the first pattern matching name in project.
func FirstMatch(patterns []Pattern, name, project string) (Pattern, bool) {
	for _, p := range patterns {
		if p.Matches(name, project) {
			return p, true
		}
	}
	return Pattern{}, false
}
