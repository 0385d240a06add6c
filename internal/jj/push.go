package jj

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/njaremko/almighty-push/internal/config"
)

// branchPattern is one best-effort regex for recovering a created branch
// name from jj git push output.
type branchPattern struct {
	re *regexp.Regexp
}

// compileBranchPatterns builds the extraction patterns for the configured
// branch prefixes. jj's push output wording has shifted across versions, so
// several phrasings are tried in sequence.
func compileBranchPatterns(cfg *config.Config) []branchPattern {
	alt := fmt.Sprintf(`%s\w+|%s\w+`,
		regexp.QuoteMeta(cfg.PushPrefix),
		regexp.QuoteMeta(cfg.ChangesPrefix))
	raw := []string{
		`(?i)(?:creating branch|created branch|branch) (` + alt + `)`,
		`(?i)(` + alt + `) for revision`,
		`(?i)branch[:\s]+(` + alt + `)`,
	}
	patterns := make([]branchPattern, 0, len(raw))
	for _, r := range raw {
		patterns = append(patterns, branchPattern{re: regexp.MustCompile(r)})
	}
	return patterns
}

// Push sends revisions to the remote. Revisions without a branch are pushed
// together in one batched --change invocation so jj assigns branch names
// atomically; revisions with a known branch are pushed individually.
func (c *Client) Push(ctx context.Context, toCreate, toUpdate []*Revision) error {
	if len(toCreate) > 0 {
		if err := c.pushNew(ctx, toCreate); err != nil {
			return err
		}
	}
	c.pushExisting(ctx, toUpdate)
	return nil
}

func (c *Client) pushNew(ctx context.Context, revs []*Revision) error {
	args := []string{"git", "push"}
	for _, rev := range revs {
		args = append(args, "--change", rev.ChangeID)
	}
	res, err := c.run.Run(ctx, "jj", args...)
	if err != nil {
		return fmt.Errorf("running jj git push: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("pushing %d new branch(es): %s", len(revs), strings.TrimSpace(res.Stderr))
	}
	c.assignBranchNames(res.Combined(), revs)
	return nil
}

// pushExisting updates each revision's branch individually, falling back to
// a per-change push when the branch push fails (the local bookmark for that
// branch may never have been created, only the remote one).
func (c *Client) pushExisting(ctx context.Context, revs []*Revision) {
	for _, rev := range revs {
		res, err := c.run.Run(ctx, "jj", "git", "push", "-b", rev.BranchName)
		if err == nil && res.Ok() {
			continue
		}
		if _, err := c.run.Run(ctx, "jj", "git", "push", "--change", rev.ChangeID); err != nil {
			c.out.Warnf("updating branch %s: %v", rev.BranchName, err)
		}
	}
}

// assignBranchNames recovers branch names from push output. A found name is
// correlated to a revision only when a change-id prefix (lengths 6, 8, 12)
// is a substring of the name. Revisions with no match get the deterministic
// default name: an unassigned revision could never get a review request.
func (c *Client) assignBranchNames(output string, revs []*Revision) {
	var found []string
	for _, p := range c.branchPatterns {
		for _, m := range p.re.FindAllStringSubmatch(output, -1) {
			found = append(found, m[1])
		}
	}

	for _, rev := range revs {
		for _, branch := range found {
			if matchesChangeID(branch, rev.ChangeID) {
				rev.BranchName = branch
				c.out.Successf("  pushed %s as branch %s", rev.ShortChangeID(), branch)
				break
			}
		}
		if rev.BranchName == "" {
			rev.BranchName = c.cfg.FallbackBranch(rev.ChangeID)
			c.out.Warnf("assuming branch name %s for %s", rev.BranchName, rev.ShortChangeID())
		}
	}
}

// matchesChangeID reports whether branch embeds a prefix of changeID at any
// of the probe lengths used across jj versions.
func matchesChangeID(branch, changeID string) bool {
	for _, n := range []int{6, 8, 12} {
		if n > len(changeID) {
			n = len(changeID)
		}
		if strings.Contains(branch, changeID[:n]) {
			return true
		}
	}
	return false
}

// DeleteLocalBookmark removes a local bookmark.
func (c *Client) DeleteLocalBookmark(ctx context.Context, name string) error {
	res, err := c.run.Run(ctx, "jj", "bookmark", "delete", name)
	if err != nil {
		return fmt.Errorf("running jj bookmark delete: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("deleting bookmark %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// DeleteRemoteBookmark removes a branch on the remote. Used only when the
// caller explicitly opted in to destructive cleanup.
func (c *Client) DeleteRemoteBookmark(ctx context.Context, name string) error {
	res, err := c.run.Run(ctx, "jj", "git", "push", "-b", name, "--delete")
	if err != nil {
		return fmt.Errorf("running jj git push --delete: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("deleting remote branch %s: %s", name, strings.TrimSpace(res.Stderr))
	}
	return nil
}
