package github

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Signals carries the evidence orphan detection weighs. Each field is an
// independent, eventually-inconsistent view of the stack; any one of them
// can nominate a pull request for closing.
type Signals struct {
	// LocalBookmarks are the managed local bookmarks right now.
	LocalBookmarks map[string]bool
	// PreviousBookmarks are the managed bookmarks at the end of the last run.
	PreviousBookmarks map[string]bool
	// SquashedIDs are change ids named by recent squash/abandon operations.
	SquashedIDs map[string]bool
	// SharedCommits maps commits to the managed bookmarks stacked on them.
	SharedCommits map[string][]string
	// TrackedIDs are change ids recorded in the previous run's state.
	TrackedIDs map[string]bool
	// ActiveIDs are change ids in the current stack.
	ActiveIDs map[string]bool
	// ActiveBranches are branch names assigned during this run.
	ActiveBranches map[string]bool
}

// Closed describes one pull request closed during orphan cleanup.
type Closed struct {
	Number int
	Branch string
	Reason string
}

// CloseOrphans closes managed pull requests whose revision has disappeared
// from the stack, and collapses duplicates left behind by a squash. It
// returns what was closed plus the branches left behind; deleting those is
// the caller's decision. Per-request failures are logged and skipped.
func (c *Client) CloseOrphans(ctx context.Context, sig Signals) (closed []Closed, doomedBranches []string) {
	if _, err := c.Repo(ctx); err != nil {
		c.out.Warnf("skipping orphan cleanup: %v", err)
		return nil, nil
	}

	open, err := c.OpenPRs(ctx)
	if err != nil {
		c.out.Warnf("could not fetch open pull requests: %v", err)
		return nil, nil
	}

	var candidates []Closed
	collapsed, skip := c.duplicateClosures(sig, open)
	candidates = append(candidates, collapsed...)

	for _, pr := range open {
		branch := pr.HeadRefName
		if !c.cfg.IsManaged(branch) || skip[branch] {
			continue
		}
		if ok, reason := shouldClose(branch, c.cfg.ChangeIDFromBranch(branch), sig); ok {
			candidates = append(candidates, Closed{Number: pr.Number, Branch: branch, Reason: reason})
		}
	}

	if len(candidates) == 0 {
		c.out.Infof("  no orphaned pull requests to clean up")
		return nil, nil
	}

	c.out.Infof("  found %d orphaned pull request(s) to close", len(candidates))
	for _, cand := range candidates {
		c.out.Infof("    closing #%d (%s): %s", cand.Number, cand.Branch, cand.Reason)
		comment := fmt.Sprintf("This PR was automatically closed because the corresponding commits were %s.", cand.Reason)
		if err := c.CommentPR(ctx, cand.Number, comment); err != nil {
			c.out.Warnf("commenting on #%d: %v", cand.Number, err)
		}
		if err := c.ClosePR(ctx, cand.Number); err != nil {
			c.out.Warnf("closing #%d: %v", cand.Number, err)
			continue
		}
		closed = append(closed, cand)
		doomedBranches = append(doomedBranches, cand.Branch)
	}
	return closed, doomedBranches
}

// shouldClose applies the orphan rules in order of signal strength.
func shouldClose(branch, changeID string, sig Signals) (bool, string) {
	// The bookmark existed last run and is gone now: the strongest signal
	// of a squash or abandon.
	if sig.PreviousBookmarks[branch] && !sig.LocalBookmarks[branch] {
		return true, "bookmark was deleted (likely squashed or abandoned)"
	}

	if changeID == "" {
		return false, ""
	}

	if sig.SquashedIDs[changeID] {
		return true, "squashed or abandoned according to the operation log"
	}

	// Tracked last run, absent now: covers rebase-away, not just squash.
	if sig.TrackedIDs[changeID] && !sig.ActiveIDs[changeID] {
		return true, "no longer in the current stack"
	}

	// Catch-all for drift: nothing local or assigned this run points here.
	if !sig.LocalBookmarks[branch] && !sig.ActiveBranches[branch] && !sig.ActiveIDs[changeID] {
		return true, "removed from the stack"
	}

	return false, ""
}

// duplicateClosures handles commits carrying more than one managed bookmark:
// two revisions squashed into one commit leave two pull requests for the
// same content. The lowest-numbered (oldest, most referenced) request is
// kept; the rest are closed.
func (c *Client) duplicateClosures(sig Signals, open []PRSummary) (closures []Closed, skip map[string]bool) {
	skip = make(map[string]bool)

	byBranch := make(map[string]PRSummary, len(open))
	for _, pr := range open {
		byBranch[pr.HeadRefName] = pr
	}

	// Deterministic iteration keeps output stable across runs.
	commits := make([]string, 0, len(sig.SharedCommits))
	for commit := range sig.SharedCommits {
		commits = append(commits, commit)
	}
	sort.Strings(commits)

	for _, commit := range commits {
		var prs []PRSummary
		for _, bookmark := range sig.SharedCommits[commit] {
			// Remote-only bookmarks carry a trailing marker.
			name := strings.TrimSuffix(bookmark, "*")
			if pr, ok := byBranch[name]; ok {
				prs = append(prs, pr)
			}
		}
		if len(prs) < 2 {
			continue
		}
		sort.Slice(prs, func(i, j int) bool { return prs[i].Number < prs[j].Number })

		c.out.Infof("  commit %s carries %d managed bookmarks; keeping #%d",
			commit, len(sig.SharedCommits[commit]), prs[0].Number)
		for _, pr := range prs[1:] {
			closures = append(closures, Closed{
				Number: pr.Number,
				Branch: pr.HeadRefName,
				Reason: "squashed into same commit as earlier PR",
			})
			skip[pr.HeadRefName] = true
		}
	}
	return closures, skip
}

// ReopenIfClosed reopens a pull request this tool previously closed, when it
// is still closed remotely, and leaves an explanatory comment. It returns
// whether the request was reopened.
func (c *Client) ReopenIfClosed(ctx context.Context, branch string, number int) (bool, error) {
	pr, err := c.ViewPR(ctx, fmt.Sprintf("%d", number))
	if err != nil || pr == nil {
		return false, err
	}
	if pr.State != "closed" {
		return false, nil
	}

	c.out.Infof("  reopening previously closed PR #%d for %s", number, branch)
	if err := c.ReopenPR(ctx, number); err != nil {
		return false, err
	}
	comment := "This PR was automatically reopened because the commit has been separated back out in the stack."
	if err := c.CommentPR(ctx, number, comment); err != nil {
		c.out.Warnf("commenting on reopened #%d: %v", number, err)
	}
	return true, nil
}
