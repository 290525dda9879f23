package services

import (
	"regexp"
	"strings"

	"github.com/justsurfingit/inbox-job-tracker/internal/models"
)

// Score weights. A candidate that satisfies both dimensions scores 100; the
// remote bonus can lift it to 110 and is deliberately left uncapped.
const (
	roleWeight   = 50
	locWeight    = 50
	remoteWeight = 10
)

// MatchResult is the scorer's verdict for one candidate.
type MatchResult struct {
	Score   int
	IsMatch bool
}

// Matcher scores candidates against one set of preferences. Role patterns
// are compiled once so a whole scan can reuse them.
type Matcher struct {
	prefs     *models.UserPreferences
	roles     []*regexp.Regexp
	locations []string
}

// NewMatcher prepares a Matcher. A nil prefs disables filtering.
func NewMatcher(prefs *models.UserPreferences) *Matcher {
	m := &Matcher{prefs: prefs}
	if prefs == nil {
		return m
	}
	for _, r := range prefs.TargetRoles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		// Whole word: the role must be bounded by start/end or a non-word rune,
		// so "QA" does not fire inside "Qatar".
		m.roles = append(m.roles, regexp.MustCompile(`(?i)(?:^|\W)`+regexp.QuoteMeta(strings.ToLower(r))+`(?:$|\W)`))
	}
	for _, l := range prefs.TargetLocations {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			m.locations = append(m.locations, l)
		}
	}
	return m
}

// RoleFilterActive reports whether non-matching candidates should be dropped.
func (m *Matcher) RoleFilterActive() bool {
	return len(m.roles) > 0
}

// Match scores a title/location pair.
func (m *Matcher) Match(title, location string) MatchResult {
	if m.prefs == nil {
		return MatchResult{Score: 100, IsMatch: true}
	}

	title = strings.ToLower(title)
	location = strings.ToLower(location)
	score := 0

	roleMatch := len(m.roles) == 0
	for _, re := range m.roles {
		if re.MatchString(title) {
			roleMatch = true
			break
		}
	}
	if roleMatch {
		score += roleWeight
	}

	locMatch := len(m.locations) == 0
	for _, l := range m.locations {
		if strings.Contains(location, l) {
			locMatch = true
			break
		}
	}
	if locMatch {
		score += locWeight
	}

	if m.prefs.RemoteOnly {
		if strings.Contains(location, "remote") || strings.Contains(title, "remote") {
			score += remoteWeight
		} else {
			locMatch = false
		}
	}

	return MatchResult{Score: score, IsMatch: roleMatch && locMatch}
}

// ScoreCandidate is a one-shot Match for callers that score a single candidate.
func ScoreCandidate(c models.JobCandidate, prefs *models.UserPreferences) MatchResult {
	return NewMatcher(prefs).Match(c.Title, c.Location)
}
