package checker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kurihiro0119/github-compliance-audit/internal/config"
	"github.com/kurihiro0119/github-compliance-audit/internal/domain"
)

var versionBranch = regexp.MustCompile(`^v\d+\.\d+`)

func pass(id, detail string) domain.CheckResult {
	return domain.CheckResult{ID: id, Passed: true, Credit: 1, Detail: detail}
}

func fail(id, detail string) domain.CheckResult {
	return domain.CheckResult{ID: id, Passed: false, Credit: 0, Detail: detail}
}

func checkDefaultBranch(snap *domain.RepositorySnapshot, cfg *config.AuditConfig, ex config.Exception) domain.CheckResult {
	expected := cfg.DefaultBranch
	if ex.DefaultBranch != "" {
		expected = ex.DefaultBranch
	}
	if snap.DefaultBranch == expected {
		return pass(domain.CheckDefaultBranch, fmt.Sprintf("default branch is %q", expected))
	}
	return fail(domain.CheckDefaultBranch, fmt.Sprintf("default branch is %q, expected %q", snap.DefaultBranch, expected))
}

// checkBranchProtection exempts repositories with at most one human login on the
// contributors endpoint. Windowed commit authors are only fetched when contributor
// properties are requested, so they never decide the score.
func checkBranchProtection(snap *domain.RepositorySnapshot, cfg *config.AuditConfig, bots *BotMatcher) domain.CheckResult {
	if n := bots.HumanCount(snap.Contributors); n <= 1 {
		return pass(domain.CheckBranchProtection, fmt.Sprintf("%d human contributor(s), protection not required", n))
	}

	p := snap.BranchProtection
	if p == nil {
		return fail(domain.CheckBranchProtection, fmt.Sprintf("%s is not protected", snap.DefaultBranch))
	}

	var problems []string
	policy := cfg.Protection
	if p.RequiredReviews < policy.MinReviews {
		problems = append(problems, fmt.Sprintf("requires %d approving review(s), policy needs %d", p.RequiredReviews, policy.MinReviews))
	}
	if policy.RequireStatusChecks && len(p.RequiredStatusChecks) == 0 {
		problems = append(problems, "no required status checks")
	}
	if policy.ForbidForcePush && p.AllowsForcePushes {
		problems = append(problems, "force pushes allowed")
	}
	if len(problems) > 0 {
		return fail(domain.CheckBranchProtection, strings.Join(problems, "; "))
	}
	return pass(domain.CheckBranchProtection, fmt.Sprintf("%s protected", snap.DefaultBranch))
}

// namingCandidates are branches subject to naming and staleness rules.
func namingCandidates(snap *domain.RepositorySnapshot, cfg *config.AuditConfig) []domain.Branch {
	ignored := map[string]bool{snap.DefaultBranch: true}
	for _, name := range cfg.IgnoredBranches {
		ignored[name] = true
	}
	var out []domain.Branch
	for _, b := range snap.Branches {
		if !ignored[b.Name] {
			out = append(out, b)
		}
	}
	return out
}

func checkBranchNaming(snap *domain.RepositorySnapshot, cfg *config.AuditConfig, ex config.Exception) domain.CheckResult {
	var offenders []string
	for _, b := range namingCandidates(snap, cfg) {
		if !branchNameAllowed(b.Name, cfg.AllowedBranchPrefixes, ex.AllowReleaseBranches) {
			offenders = append(offenders, b.Name)
		}
	}
	if len(offenders) == 0 {
		return pass(domain.CheckBranchNaming, "all branches follow naming policy")
	}
	sort.Strings(offenders)
	return fail(domain.CheckBranchNaming, "non-compliant branches: "+strings.Join(offenders, ", "))
}

func branchNameAllowed(name string, prefixes []string, allowRelease bool) bool {
	if versionBranch.MatchString(name) {
		return false
	}
	if strings.HasPrefix(name, "release/") {
		return allowRelease
	}
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func checkStandardFiles(snap *domain.RepositorySnapshot, cfg *config.AuditConfig) domain.CheckResult {
	required := cfg.StandardFiles
	if len(required) == 0 {
		return pass(domain.CheckStandardFiles, "no standard files required")
	}

	var missing []string
	for _, name := range required {
		if !snap.FilesPresent[name] {
			missing = append(missing, name)
		}
	}
	found := len(required) - len(missing)
	r := domain.CheckResult{
		ID:     domain.CheckStandardFiles,
		Passed: len(missing) == 0,
		Credit: float64(found) / float64(len(required)),
		Detail: fmt.Sprintf("%d/%d standard files present", found, len(required)),
	}
	if len(missing) > 0 {
		r.Detail += "; missing: " + strings.Join(missing, ", ")
	}
	return r
}

func checkCIPattern(snap *domain.RepositorySnapshot) domain.CheckResult {
	if len(snap.Workflows) == 0 {
		return pass(domain.CheckCIPattern, "no workflows")
	}

	var offenders, unparsed []string
	for _, wf := range snap.Workflows {
		if wf.Content == "" {
			continue
		}
		a, err := analyzeWorkflow(wf)
		if err != nil {
			unparsed = append(unparsed, wf.Path)
			continue
		}
		if a.Deploys && a.BranchPush {
			offenders = append(offenders, wf.Path)
		}
	}

	var detail string
	if len(offenders) == 0 {
		detail = "no deployment workflow runs on branch push"
	} else {
		detail = "deployment on branch push instead of tag: " + strings.Join(offenders, ", ")
	}
	if len(unparsed) > 0 {
		detail += "; unparseable: " + strings.Join(unparsed, ", ")
	}
	if len(offenders) > 0 {
		return fail(domain.CheckCIPattern, detail)
	}
	return pass(domain.CheckCIPattern, detail)
}

func checkStaleBranches(snap *domain.RepositorySnapshot, cfg *config.AuditConfig, now time.Time) domain.CheckResult {
	cutoff := now.Add(-time.Duration(cfg.StaleBranchDays) * 24 * time.Hour)

	eligible := 0
	var stale []string
	for _, b := range namingCandidates(snap, cfg) {
		if b.LastCommitAt == nil {
			continue
		}
		eligible++
		if b.LastCommitAt.Before(cutoff) {
			stale = append(stale, b.Name)
		}
	}
	if eligible == 0 {
		return pass(domain.CheckStaleBranches, "no branches besides the default branch")
	}
	if len(stale) == 0 {
		return pass(domain.CheckStaleBranches, fmt.Sprintf("no branches older than %d days", cfg.StaleBranchDays))
	}
	sort.Strings(stale)
	return domain.CheckResult{
		ID:     domain.CheckStaleBranches,
		Passed: false,
		Credit: 1 - float64(len(stale))/float64(eligible),
		Detail: fmt.Sprintf("%d/%d branches stale for over %d days: %s", len(stale), eligible, cfg.StaleBranchDays, strings.Join(stale, ", ")),
	}
}
