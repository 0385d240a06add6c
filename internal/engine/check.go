package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/njaremko/almighty-push/internal/jj"
	"github.com/njaremko/almighty-push/internal/state"
)

// staleClosedAfter is how long a closed-request record is kept before the
// consistency check flags it as stale.
const staleClosedAfter = 30 * 24 * time.Hour

// CheckReport is the read-only consistency report produced by Check.
type CheckReport struct {
	// MissingDescriptions are revisions without a description. A sync run
	// refuses to start on these; the check only reports them.
	MissingDescriptions []string
	// OrphanedEntries are tracked change ids no longer in the stack.
	OrphanedEntries []string
	// InconsistentBranches are tracked branches that do not embed their
	// change id at any probe length.
	InconsistentBranches []string
	// ReorderedPairs are change-id pairs whose stack order no longer
	// matches the order their requests were created in.
	ReorderedPairs []string
	// StaleClosed are closed-request records older than staleClosedAfter.
	StaleClosed []string
}

// Empty reports whether the check found nothing to flag.
func (r *CheckReport) Empty() bool {
	return len(r.MissingDescriptions) == 0 &&
		len(r.OrphanedEntries) == 0 &&
		len(r.InconsistentBranches) == 0 &&
		len(r.ReorderedPairs) == 0 &&
		len(r.StaleClosed) == 0
}

// Check compares the persisted state against the current stack and reports
// inconsistencies without mutating anything. It is the diagnostic companion
// to Run: the same drift Run would repair, surfaced for inspection.
func (e *Engine) Check(ctx context.Context) error {
	// The survey variant tolerates missing descriptions: the check exists
	// for exactly the repositories a sync run would refuse to touch.
	revs, missing, err := e.jj.StackSurvey(ctx)
	if err != nil {
		return err
	}
	st := e.store.Load()

	report := buildCheckReport(revs, missing, st, e.now())

	if report.Empty() {
		e.out.Successf("state and stack are consistent (%d revision(s), %d tracked request(s))",
			len(revs), len(st.PRs))
		return nil
	}
	for _, id := range report.MissingDescriptions {
		e.out.Warnf("revision has no description: %s", id)
	}
	for _, id := range report.OrphanedEntries {
		e.out.Warnf("tracked but not in stack: %s", id)
	}
	for _, b := range report.InconsistentBranches {
		e.out.Warnf("branch does not embed its change id: %s", b)
	}
	for _, p := range report.ReorderedPairs {
		e.out.Warnf("stack order changed since requests were created: %s", p)
	}
	for _, b := range report.StaleClosed {
		e.out.Warnf("closed-request record older than 30 days: %s", b)
	}
	return nil
}

func buildCheckReport(revs []*jj.Revision, missing []string, st *state.State, now time.Time) *CheckReport {
	report := &CheckReport{MissingDescriptions: missing}

	active := make(map[string]int, len(revs))
	for i, rev := range revs {
		active[rev.ChangeID] = i
	}

	tracked := make([]string, 0, len(st.PRs))
	for id := range st.PRs {
		tracked = append(tracked, id)
	}
	sort.Strings(tracked)

	for _, id := range tracked {
		rec := st.PRs[id]
		if _, ok := active[id]; !ok {
			report.OrphanedEntries = append(report.OrphanedEntries,
				fmt.Sprintf("%s (#%d, %s)", id, rec.PRNumber, rec.BranchName))
		}
		if !branchEmbedsChangeID(rec.BranchName, id) {
			report.InconsistentBranches = append(report.InconsistentBranches,
				fmt.Sprintf("%s (%s)", rec.BranchName, id))
		}
	}

	// Request numbers increase in stack order at creation time, so a tracked
	// pair whose numbers and current positions disagree was reordered.
	for i, a := range revs {
		recA, okA := st.PRs[a.ChangeID]
		if !okA {
			continue
		}
		for _, b := range revs[i+1:] {
			recB, okB := st.PRs[b.ChangeID]
			if !okB {
				continue
			}
			if recA.PRNumber > recB.PRNumber {
				report.ReorderedPairs = append(report.ReorderedPairs,
					fmt.Sprintf("%s (#%d) now precedes %s (#%d)",
						a.ShortChangeID(), recA.PRNumber, b.ShortChangeID(), recB.PRNumber))
			}
		}
	}

	closedBranches := make([]string, 0, len(st.ClosedPRs))
	for branch := range st.ClosedPRs {
		closedBranches = append(closedBranches, branch)
	}
	sort.Strings(closedBranches)
	for _, branch := range closedBranches {
		if now.Sub(st.ClosedPRs[branch].ClosedAt) > staleClosedAfter {
			report.StaleClosed = append(report.StaleClosed, branch)
		}
	}

	return report
}

// branchEmbedsChangeID checks the branch name against change-id prefixes at
// the probe lengths used by branch matching.
func branchEmbedsChangeID(branch, changeID string) bool {
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
