// Package engine reconciles the local jj stack with GitHub pull requests.
//
// Every run rebuilds the picture from three independent, eventually
// inconsistent sources: the revision graph, the operation log, and the open
// pull request list. The engine classifies each revision as create-or-update,
// retires requests whose revision disappeared, re-derives base linkage, and
// persists what it learned for the next run. It must never lose or duplicate
// a pull request.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/njaremko/almighty-push/internal/config"
	"github.com/njaremko/almighty-push/internal/github"
	"github.com/njaremko/almighty-push/internal/jj"
	"github.com/njaremko/almighty-push/internal/state"
	"github.com/njaremko/almighty-push/internal/ui"
)

// Options are the per-run switches from the CLI.
type Options struct {
	DryRun          bool
	NoPR            bool
	NoOrphanCleanup bool
	DeleteBranches  bool
}

// Engine composes the collaborators and owns all state mutation.
type Engine struct {
	cfg   *config.Config
	jj    *jj.Client
	gh    *github.Client
	store *state.Store
	out   *ui.Printer
	opts  Options
	now   func() time.Time
}

// New returns an engine over the given collaborators.
func New(cfg *config.Config, jjc *jj.Client, ghc *github.Client, store *state.Store, out *ui.Printer, opts Options) *Engine {
	return &Engine{
		cfg:   cfg,
		jj:    jjc,
		gh:    ghc,
		store: store,
		out:   out,
		opts:  opts,
		now:   time.Now,
	}
}

// Run performs one full reconciliation pass.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.jj.Fetch(ctx); err != nil {
		return err
	}

	revs, err := e.jj.Stack(ctx)
	if err != nil {
		return err
	}

	prev := e.store.Load()

	if len(revs) == 0 {
		e.out.Infof("no revisions to push")
		if e.opts.DryRun {
			return nil
		}
		// The last tracked revision disappearing is itself an orphan-close
		// trigger, so cleanup and persistence still run on an empty stack.
		var closed []github.Closed
		if !e.opts.NoPR && !e.opts.NoOrphanCleanup {
			closed = e.closeOrphans(ctx, nil, prev)
		}
		if !e.opts.NoPR {
			e.persist(ctx, nil, closed, prev)
		}
		return nil
	}

	e.out.Infof("found %d revision(s) to push", len(revs))

	// Step A: match each revision against the remote managed branches.
	branches := e.gh.RemoteBranches(ctx)
	toCreate, toUpdate := classify(revs, branches)

	if e.opts.DryRun {
		e.printPlan(toCreate, toUpdate)
		return nil
	}

	for _, rev := range toUpdate {
		e.out.Infof("  found existing branch for %s: %s", rev.ShortChangeID(), rev.BranchName)
	}

	// Step B: push, recovering branch names for new revisions.
	if err := e.jj.Push(ctx, toCreate, toUpdate); err != nil {
		return err
	}

	var closed []github.Closed
	if !e.opts.NoPR {
		// Step C: retire orphaned requests before creating new ones.
		if !e.opts.NoOrphanCleanup {
			closed = e.closeOrphans(ctx, revs, prev)
		}

		// Steps D and E.
		e.materialize(ctx, revs, prev)
		e.verifyBases(ctx, revs)
		e.refreshDetails(ctx, revs)

		// Step F.
		e.persist(ctx, revs, closed, prev)
	}

	e.summary(revs)
	return nil
}

// classify splits the stack into revisions needing a new branch and those
// reusing an existing one. Longer change-id prefixes are probed first so a
// short shared prefix cannot steal another revision's branch.
func classify(revs []*jj.Revision, branches map[string]bool) (toCreate, toUpdate []*jj.Revision) {
	sorted := make([]string, 0, len(branches))
	for b := range branches {
		sorted = append(sorted, b)
	}
	sort.Strings(sorted)

	for _, rev := range revs {
		if b := findExistingBranch(rev.ChangeID, sorted); b != "" {
			rev.BranchName = b
			toUpdate = append(toUpdate, rev)
		} else {
			toCreate = append(toCreate, rev)
		}
	}
	return toCreate, toUpdate
}

func findExistingBranch(changeID string, branches []string) string {
	for _, n := range []int{12, 8} {
		if n > len(changeID) {
			n = len(changeID)
		}
		prefix := changeID[:n]
		for _, branch := range branches {
			if strings.Contains(branch, prefix) {
				return branch
			}
		}
	}
	return ""
}

func (e *Engine) printPlan(toCreate, toUpdate []*jj.Revision) {
	e.out.Infof("dry run: no changes will be made")
	for _, rev := range toCreate {
		e.out.Infof("  would create a branch and pull request for %s (%s)", rev.ShortChangeID(), rev.Description)
	}
	for _, rev := range toUpdate {
		e.out.Infof("  would update branch %s for %s (%s)", rev.BranchName, rev.ShortChangeID(), rev.Description)
	}
}

// closeOrphans gathers the heuristic signals and lets the GitHub client
// decide which open requests to retire. Branch deletion stays opt-in;
// default behavior preserves branches for forensic recovery.
func (e *Engine) closeOrphans(ctx context.Context, revs []*jj.Revision, prev *state.State) []github.Closed {
	activeIDs := make(map[string]bool, len(revs))
	activeBranches := make(map[string]bool, len(revs))
	for _, rev := range revs {
		activeIDs[rev.ChangeID] = true
		if rev.BranchName != "" {
			activeBranches[rev.BranchName] = true
		}
	}

	sig := github.Signals{
		LocalBookmarks:    e.jj.LocalBookmarks(ctx),
		PreviousBookmarks: prev.PreviousBookmarks(),
		SquashedIDs:       e.jj.RecentSquashTargets(ctx),
		SharedCommits:     e.jj.BookmarksSharingCommit(ctx),
		TrackedIDs:        prev.TrackedIDs(),
		ActiveIDs:         activeIDs,
		ActiveBranches:    activeBranches,
	}

	closed, doomed := e.gh.CloseOrphans(ctx, sig)

	if e.opts.DeleteBranches {
		for _, branch := range doomed {
			name := strings.TrimSuffix(branch, "*")
			if err := e.jj.DeleteRemoteBookmark(ctx, name); err != nil {
				e.out.Warnf("deleting remote branch %s: %v", name, err)
			} else {
				e.out.Successf("  deleted remote branch %s", name)
			}
		}
	} else if len(doomed) > 0 {
		e.out.Infof("  keeping %d remote branch(es); use --delete-branches to remove them", len(doomed))
	}

	e.cleanupMergedBookmarks(ctx, sig, prev)
	return closed
}

// cleanupMergedBookmarks reports managed bookmarks whose pull request has
// merged, and removes them when branch deletion is opted in. Merged requests
// never appear in the open list the orphan pass reads, so without this their
// bookmarks would linger forever.
func (e *Engine) cleanupMergedBookmarks(ctx context.Context, sig github.Signals, prev *state.State) {
	if len(prev.PRs) == 0 {
		return
	}

	tracked := make(map[string]bool, len(prev.PRs))
	for _, rec := range prev.PRs {
		tracked[rec.BranchName] = true
	}

	merged, err := e.gh.MergedPRs(ctx)
	if err != nil {
		e.out.Warnf("could not fetch merged pull requests: %v", err)
		return
	}

	var doomed []string
	for _, pr := range merged {
		branch := pr.HeadRefName
		if !e.cfg.IsManaged(branch) || !tracked[branch] || !sig.LocalBookmarks[branch] {
			continue
		}
		// A branch reassigned during this run is still in use.
		if sig.ActiveBranches[branch] {
			continue
		}
		doomed = append(doomed, branch)
	}
	if len(doomed) == 0 {
		return
	}
	sort.Strings(doomed)

	if !e.opts.DeleteBranches {
		e.out.Infof("  %d merged branch(es) still have bookmarks; use --delete-branches to remove them", len(doomed))
		return
	}
	for _, branch := range doomed {
		if err := e.jj.DeleteLocalBookmark(ctx, branch); err != nil {
			e.out.Warnf("deleting bookmark %s: %v", branch, err)
			continue
		}
		if err := e.jj.DeleteRemoteBookmark(ctx, branch); err != nil {
			e.out.Warnf("deleting remote branch %s: %v", branch, err)
			continue
		}
		e.out.Successf("  removed merged branch %s", branch)
	}
}

// materialize creates or updates one pull request per revision, oldest
// first. Order is semantically required: each request's base is the previous
// revision's branch.
func (e *Engine) materialize(ctx context.Context, revs []*jj.Revision, prev *state.State) {
	repo, err := e.gh.Repo(ctx)
	if err != nil {
		e.out.Warnf("cannot create pull requests: %v", err)
		return
	}
	e.out.Infof("repository: %s", repo)

	for i, rev := range revs {
		if rev.BranchName == "" {
			e.out.Warnf("skipping %s: no branch name", rev.ShortChangeID())
			continue
		}

		base := e.cfg.BaseBranch
		if i > 0 {
			base = revs[i-1].BranchName
			if base == "" {
				// Never default to the global base here: that would
				// silently corrupt the stack topology.
				e.out.Warnf("skipping %s: previous revision has no branch", rev.ShortChangeID())
				continue
			}
		}

		e.reopenForBranch(ctx, rev.BranchName, prev)

		existing, err := e.gh.ViewPR(ctx, rev.BranchName)
		if err != nil {
			e.out.Warnf("looking up pull request for %s: %v", rev.BranchName, err)
			continue
		}
		if existing != nil {
			rev.PRURL = existing.URL
			rev.PRNumber = existing.Number
			rev.PRState = existing.State
			if rev.PRState == "" {
				rev.PRState = "open"
			}
			// A merged or closed request is final: never retarget it, and
			// never open a duplicate for its branch.
			if rev.PRState != "open" {
				e.out.Infof("  PR #%d for %s is %s; leaving it as is", existing.Number, rev.ShortChangeID(), rev.PRState)
				continue
			}
			if existing.BaseRefName != base {
				if err := e.gh.EditPRBase(ctx, rev.BranchName, base); err != nil {
					e.out.Warnf("%v", err)
				}
			}
			continue
		}

		url, err := e.gh.CreatePR(ctx, rev.BranchName, base, rev.Description, createBody(rev, i, revs))
		if err != nil {
			e.out.Warnf("creating pull request for %s: %v", rev.ShortChangeID(), err)
			continue
		}
		rev.PRURL = url
		rev.PRNumber = rev.ExtractPRNumber()
		rev.PRState = "open"
		e.out.Successf("  created PR for %s: %s", rev.ShortChangeID(), url)
	}
}

// reopenForBranch reopens a request this tool previously closed when its
// branch is about to be reused, so a revision that was temporarily removed
// and re-added does not get a duplicate request.
func (e *Engine) reopenForBranch(ctx context.Context, branch string, prev *state.State) {
	rec, ok := prev.ClosedPRs[branch]
	if !ok {
		return
	}
	reopened, err := e.gh.ReopenIfClosed(ctx, branch, rec.PRNumber)
	if err != nil {
		e.out.Warnf("reopening #%d for %s: %v", rec.PRNumber, branch, err)
		return
	}
	if reopened {
		delete(prev.ClosedPRs, branch)
		// Persist right away so an interrupt cannot close it again later.
		if err := e.store.Save(prev); err != nil {
			e.out.Warnf("saving state after reopen: %v", err)
		}
	}
}

// verifyBases re-reads each request's base after materialization and reports
// mismatches. They indicate a race or a manual edit; the engine surfaces
// them rather than silently overwriting.
func (e *Engine) verifyBases(ctx context.Context, revs []*jj.Revision) {
	var issues []string
	for i, rev := range revs {
		if !rev.HasPR() || rev.BranchName == "" || rev.PRState != "open" {
			continue
		}
		expected := e.cfg.BaseBranch
		if i > 0 {
			expected = revs[i-1].BranchName
			if expected == "" {
				issues = append(issues, fmt.Sprintf("cannot verify base for %s: no expected base", rev.ShortChangeID()))
				continue
			}
		}
		pr, err := e.gh.ViewPR(ctx, rev.BranchName)
		if err != nil || pr == nil {
			continue
		}
		if pr.State != "" && pr.State != "open" {
			continue
		}
		if pr.BaseRefName != expected {
			issues = append(issues, fmt.Sprintf("%s has base %s, expected %s", rev.ShortChangeID(), pr.BaseRefName, expected))
		}
	}
	if len(issues) > 0 {
		e.out.Warnf("stack verification found issues:")
		for _, issue := range issues {
			e.out.Warnf("  - %s", issue)
		}
	}
}

// refreshDetails rebuilds every request's body from the live set of request
// numbers so cross-links stay correct even for requests created moments ago
// in this same run.
func (e *Engine) refreshDetails(ctx context.Context, revs []*jj.Revision) {
	for i, rev := range revs {
		if !rev.HasPR() || rev.BranchName == "" || rev.PRState == "merged" {
			continue
		}
		if err := e.gh.EditPRContent(ctx, rev.BranchName, rev.Description, fullBody(rev, i, revs)); err != nil {
			e.out.Warnf("updating pull request for %s: %v", rev.ShortChangeID(), err)
			continue
		}
		e.out.Successf("  updated PR #%d for %s", rev.ExtractPRNumber(), rev.ShortChangeID())
	}
}

// persist writes the next state document: tracked requests, the merged
// closed-request map, and the current managed bookmark set.
func (e *Engine) persist(ctx context.Context, revs []*jj.Revision, closed []github.Closed, prev *state.State) {
	next := state.Empty()
	next.LastRun = e.now()

	for _, rev := range revs {
		// A merged request needs no further reconciliation; tracking it
		// would only nominate it for a doomed close next run.
		if !rev.HasPR() || rev.PRState == "merged" {
			continue
		}
		next.PRs[rev.ChangeID] = state.PR{
			PRNumber:    rev.ExtractPRNumber(),
			PRURL:       rev.PRURL,
			BranchName:  rev.BranchName,
			CommitID:    rev.CommitID,
			Description: rev.Description,
			LastSeen:    e.now(),
		}
	}

	// Merge, never replace: prior closed records stay until reconciled away.
	for branch, rec := range prev.ClosedPRs {
		next.ClosedPRs[branch] = rec
	}
	for _, cl := range closed {
		next.ClosedPRs[cl.Branch] = state.ClosedPR{
			PRNumber: cl.Number,
			ClosedAt: e.now(),
			Reason:   cl.Reason,
		}
	}

	bookmarks := e.jj.LocalBookmarks(ctx)
	next.Bookmarks = make([]string, 0, len(bookmarks))
	for b := range bookmarks {
		next.Bookmarks = append(next.Bookmarks, b)
	}
	sort.Strings(next.Bookmarks)

	if err := e.store.Save(next); err != nil {
		e.out.Warnf("could not save state: %v", err)
	}
}

func (e *Engine) summary(revs []*jj.Revision) {
	var withPR []*jj.Revision
	for _, rev := range revs {
		if rev.HasPR() && (rev.PRState == "" || rev.PRState == "open") {
			withPR = append(withPR, rev)
		}
	}
	if len(withPR) == 0 {
		return
	}
	e.out.Headerf("pull request stack:")
	for i, rev := range withPR {
		e.out.Infof("  [%d/%d] PR #%d: %s", i+1, len(withPR), rev.ExtractPRNumber(), rev.Description)
		e.out.Infof("        %s", rev.PRURL)
	}
}
