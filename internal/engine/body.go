package engine

import (
	"fmt"
	"strings"

	"github.com/njaremko/almighty-push/internal/jj"
)

// createBody is the initial body for a brand-new pull request: the whole
// stack with the current entry marked, plus the identifier metadata the next
// run's heuristics anchor on.
func createBody(rev *jj.Revision, pos int, all []*jj.Revision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Stack PR #%d**\n\n", pos+1)
	b.WriteString("Part of stack:\n")
	for i, r := range all {
		marker := "  "
		if i == pos {
			marker = "→ "
		}
		fmt.Fprintf(&b, "%s %d. %s\n", marker, i+1, r.Description)
	}
	writeMetadata(&b, rev)
	return b.String()
}

// fullBody is the refreshed body written once every request in the stack has
// a number: cross-links use the live numbers, and the non-title remainder of
// the commit message becomes a Description section.
func fullBody(rev *jj.Revision, pos int, all []*jj.Revision) string {
	var b strings.Builder
	b.WriteString("## Stack\n\n")
	for i, r := range all {
		if !r.HasPR() {
			continue
		}
		marker := "  "
		if i == pos {
			marker = "→"
		}
		fmt.Fprintf(&b, "%s **#%d**: %s\n", marker, r.ExtractPRNumber(), r.Description)
	}

	if remainder := descriptionRemainder(rev.FullDescription); remainder != "" {
		b.WriteString("\n## Description\n\n")
		b.WriteString(remainder)
		b.WriteString("\n")
	}

	b.WriteString("\n---")
	writeMetadata(&b, rev)
	return b.String()
}

// writeMetadata appends the machine-readable trailer. These lines are the
// stable anchor for the next run's orphan detection and branch matching.
func writeMetadata(b *strings.Builder, rev *jj.Revision) {
	fmt.Fprintf(b, "\nChange ID: `%s`\nCommit ID: `%s`\n", rev.ChangeID, rev.CommitID)
}

// descriptionRemainder returns everything after the first line of a commit
// message, trimmed, or "" when the message is title-only.
func descriptionRemainder(full string) string {
	_, rest, ok := strings.Cut(full, "\n")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}
