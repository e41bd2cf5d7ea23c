package triage

import "regexp"

// Matcher is one precompiled triage rule. A line matches when the match
// expression hits and the optional exclude expression does not; RE2 has no
// lookahead, so exclusions are a separate pattern instead of being folded
// into the match expression.
type Matcher struct {
	Name string

	match   *regexp.Regexp
	exclude *regexp.Regexp
}

// NewMatcher compiles a named triage rule. The pattern must compile; rule
// tables are static so a bad pattern is a programming error.
func NewMatcher(name, pattern string) Matcher {
	return Matcher{
		Name:  name,
		match: regexp.MustCompile(pattern),
	}
}

// NewMatcherExcluding compiles a rule that matches pattern except when the
// line also matches exclude.
func NewMatcherExcluding(name, pattern, exclude string) Matcher {
	return Matcher{
		Name:    name,
		match:   regexp.MustCompile(pattern),
		exclude: regexp.MustCompile(exclude),
	}
}

// Matches reports whether the line triggers this rule.
func (m Matcher) Matches(line string) bool {
	if !m.match.MatchString(line) {
		return false
	}
	if m.exclude != nil && m.exclude.MatchString(line) {
		return false
	}
	return true
}

// PatternSet is an ordered triage rule table. Evaluation order is a
// first-class contract: ignore rules short-circuit, then critical rules in
// order with first match winning, then warning rules.
type PatternSet struct {
	Ignore   []Matcher
	Critical []Matcher
	Warning  []Matcher
}

// DefaultPatterns returns the rule table tuned for the marine-data server's
// runtime logs.
func DefaultPatterns() PatternSet {
	return PatternSet{
		Ignore: []Matcher{
			NewMatcher("no-data-chatter", `(?i)(no data (yet|received)|waiting for (data|connection))`),
			NewMatcher("debug-chatter", `(?i)^\s*(debug|trace)[:\s]`),
			NewMatcher("healthcheck", `(?i)health ?check`),
			NewMatcher("startup-chatter", `(?i)(starting .*(server|provider|plugin)|listening on|server (is )?ready)`),
		},
		Critical: []Matcher{
			NewMatcher("uncaught-exception", `(?i)uncaught ?exception`),
			NewMatcher("unhandled-rejection", `(?i)unhandled ?(promise )?rejection`),
			NewMatcher("fatal-signal", `SIGSEGV|SIGABRT|SIGILL|[Ss]egmentation fault`),
			NewMatcher("out-of-memory", `(?i)out of memory`),
			NewMatcher("module-not-found", `(?i)(cannot find module|MODULE_NOT_FOUND)`),
			NewMatcher("connection-refused", `(?i)(ECONNREFUSED|connection refused)`),
			NewMatcher("error-token", `\b(ERROR|FATAL)\b`),
			// Real TypeErrors matter but the server's plugins routinely log
			// benign null-check phrasing; excluding it keeps the noise down.
			NewMatcherExcluding("type-error", `TypeError`,
				`(?i)(cannot read propert(y|ies) of (null|undefined)|null is not an object)`),
		},
		Warning: []Matcher{
			NewMatcher("warn-token", `\bWARN(ING)?\b`),
			NewMatcher("deprecated", `(?i)\bdeprecat(ed|ion)\b`),
			NewMatcher("retry", `(?i)\bretry(ing)?\b`),
		},
	}
}
