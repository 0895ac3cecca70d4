package checker

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

// BotMatcher recognizes automation accounts by login
type BotMatcher struct {
	patterns []*regexp.Regexp
}

// NewBotMatcher compiles case-insensitive patterns anchored at the start of the login.
func NewBotMatcher(patterns []string) (*BotMatcher, error) {
	m := &BotMatcher{}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("compile bot pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

// IsBot reports whether login belongs to a bot
func (m *BotMatcher) IsBot(login string) bool {
	for _, re := range m.patterns {
		if re.MatchString(login) {
			return true
		}
	}
	return false
}

// HumanCount returns the number of distinct non-bot logins
func (m *BotMatcher) HumanCount(logins []string) int {
	seen := map[string]bool{}
	for _, login := range logins {
		if login == "" || m.IsBot(login) {
			continue
		}
		seen[strings.ToLower(login)] = true
	}
	return len(seen)
}

// ContributorStats summarizes commit authorship over two windows
type ContributorStats struct {
	Count   int
	Primary string
}

// computeContributors counts unique non-bot authors within contributorWindow and
// picks the top author within primaryWindow, falling back to contributorWindow
// when the shorter window has no human commits.
func computeContributors(authors []domain.CommitAuthor, bots *BotMatcher, now time.Time, contributorWindow, primaryWindow time.Duration) ContributorStats {
	wide := countByLogin(authors, bots, now.Add(-contributorWindow))
	primary := topLogin(countByLogin(authors, bots, now.Add(-primaryWindow)))
	if primary == "" && primaryWindow < contributorWindow {
		primary = topLogin(wide)
	}
	return ContributorStats{Count: len(wide), Primary: primary}
}

func countByLogin(authors []domain.CommitAuthor, bots *BotMatcher, since time.Time) map[string]int {
	counts := map[string]int{}
	for _, a := range authors {
		if a.Login == "" || bots.IsBot(a.Login) || a.CommittedAt.Before(since) {
			continue
		}
		counts[a.Login]++
	}
	return counts
}

// topLogin picks the highest count; ties go to the lexicographically smaller login.
func topLogin(counts map[string]int) string {
	best, bestCount := "", 0
	for login, n := range counts {
		if n > bestCount || (n == bestCount && login < best) {
			best, bestCount = login, n
		}
	}
	return best
}

// HumanizeSince renders the time between then and now as "2y 3m 5d",
// using 365-day years and 30-day months.
func HumanizeSince(then, now time.Time) string {
	days := int(now.Sub(then).Hours() / 24)
	if days < 0 {
		days = 0
	}
	years := days / 365
	months := (days % 365) / 30
	rem := days % 30

	var parts []string
	if years > 0 {
		parts = append(parts, fmt.Sprintf("%dy", years))
	}
	if months > 0 {
		parts = append(parts, fmt.Sprintf("%dm", months))
	}
	if rem > 0 {
		parts = append(parts, fmt.Sprintf("%dd", rem))
	}
	if len(parts) == 0 {
		return "0d"
	}
	return strings.Join(parts, " ")
}
