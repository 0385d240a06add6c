// Package jj drives the jj executable: stack discovery, bookmark queries,
// operation-log scanning, and pushes. All jj output parsing lives here so the
// reconciliation engine only sees typed values.
package jj

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/njaremko/almighty-push/internal/config"
	"github.com/njaremko/almighty-push/internal/execx"
	"github.com/njaremko/almighty-push/internal/ui"
)

// Revision is one change in the stack, rebuilt fresh every run. ChangeID is
// the only identifier stable across amends and rebases; CommitID is not.
type Revision struct {
	ChangeID        string
	CommitID        string
	Description     string // first line of the commit message
	FullDescription string // complete message, fetched in a second pass
	BranchName      string // set once a remote branch is known
	PRURL           string
	PRNumber        int
	PRState         string // open, closed, or merged, once resolved
}

// ShortChangeID returns the abbreviated change id used in messages.
func (r *Revision) ShortChangeID() string {
	if len(r.ChangeID) > 8 {
		return r.ChangeID[:8]
	}
	return r.ChangeID
}

// HasPR reports whether a pull request has been resolved for this revision.
func (r *Revision) HasPR() bool { return r.PRURL != "" }

// ExtractPRNumber parses the numeric id out of the PR URL, or 0.
func (r *Revision) ExtractPRNumber() int {
	if r.PRNumber != 0 {
		return r.PRNumber
	}
	idx := strings.LastIndex(r.PRURL, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(r.PRURL[idx+1:])
	if err != nil {
		return 0
	}
	return n
}

// MissingDescriptionsError is returned when revisions in the stack have no
// description. An un-described revision cannot produce a review title, so the
// whole run aborts before any push.
type MissingDescriptionsError struct {
	ChangeIDs []string
}

func (e *MissingDescriptionsError) Error() string {
	var b strings.Builder
	b.WriteString("the following commits have no description:\n")
	for _, id := range e.ChangeIDs {
		fmt.Fprintf(&b, "  - %s\n", id)
	}
	b.WriteString("add descriptions before pushing: jj describe -r <change_id> -m \"...\"")
	return b.String()
}

// Client wraps the jj executable.
type Client struct {
	run execx.Runner
	cfg *config.Config
	out *ui.Printer

	branchPatterns []branchPattern
}

// NewClient returns a jj client using the given runner and configuration.
func NewClient(run execx.Runner, cfg *config.Config, out *ui.Printer) *Client {
	return &Client{
		run:            run,
		cfg:            cfg,
		out:            out,
		branchPatterns: compileBranchPatterns(cfg),
	}
}

const stackTemplate = `change_id.short(12) ++ "\t" ++ commit_id.short(12) ++ "\t" ++ if(empty, "empty", "-") ++ "\t" ++ description.first_line() ++ "\n"`

// Fetch pulls the remote so base@remote is current before discovery.
func (c *Client) Fetch(ctx context.Context) error {
	res, err := c.run.Run(ctx, "jj", "git", "fetch")
	if err != nil {
		return fmt.Errorf("running jj git fetch: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("fetching from remote: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Stack returns the revisions strictly between base@remote and the working
// copy, oldest first. Empty revisions are skipped; a revision without a
// description makes the whole call fail with MissingDescriptionsError, and a
// divergent range fails before anything is pushed.
func (c *Client) Stack(ctx context.Context) ([]*Revision, error) {
	revs, missing, err := c.stackRevisions(ctx)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &MissingDescriptionsError{ChangeIDs: missing}
	}
	if err := c.ensureLinearStack(ctx, revs); err != nil {
		return nil, err
	}
	c.fetchFullDescriptions(ctx, revs)
	return revs, nil
}

// StackSurvey returns the stack without enforcing the description
// precondition: the revisions plus the identifiers lacking one. Read-only
// diagnostics use it so a broken stack can still be inspected.
func (c *Client) StackSurvey(ctx context.Context) ([]*Revision, []string, error) {
	return c.stackRevisions(ctx)
}

func (c *Client) stackRevisions(ctx context.Context) ([]*Revision, []string, error) {
	rng := c.stackRange()
	res, err := c.run.Run(ctx, "jj", "log", "-r", rng, "--no-graph", "--template", stackTemplate)
	if err != nil {
		return nil, nil, fmt.Errorf("running jj log: %w", err)
	}
	if !res.Ok() {
		return nil, nil, fmt.Errorf("listing revisions in %s: %s", rng, strings.TrimSpace(res.Stderr))
	}

	revs, skipped := parseStack(res.Stdout)
	for _, s := range skipped {
		c.out.Infof("  skipped empty revision %s", s)
	}

	var missing []string
	for _, rev := range revs {
		if rev.Description == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", rev.ChangeID, rev.CommitID))
		}
	}
	return revs, missing, nil
}

func (c *Client) stackRange() string {
	return fmt.Sprintf("%s@%s..@", c.cfg.BaseBranch, c.cfg.Remote)
}

// ensureLinearStack rejects a divergent range. More than one head or root
// above the base means log order does not reflect ancestry, so base linkage
// derived from it would be wrong.
func (c *Client) ensureLinearStack(ctx context.Context, revs []*Revision) error {
	if len(revs) == 0 {
		return nil
	}
	rng := c.stackRange()
	if heads := c.revsetEntries(ctx, fmt.Sprintf("heads(%s)", rng)); len(heads) > 1 {
		return fmt.Errorf("multiple stack heads above %s: %s; resolve the divergence (for example with jj rebase) and retry",
			c.cfg.BaseBranch, strings.Join(heads, ", "))
	}
	if roots := c.revsetEntries(ctx, fmt.Sprintf("roots(%s)", rng)); len(roots) > 1 {
		return fmt.Errorf("multiple independent roots above %s: %s; a single linear stack is required",
			c.cfg.BaseBranch, strings.Join(roots, ", "))
	}
	return nil
}

// revsetEntries lists a revset, one line per entry. Failures degrade to an
// empty list; callers treat the result as advisory.
func (c *Client) revsetEntries(ctx context.Context, expr string) []string {
	res, err := c.run.Run(ctx, "jj", "log", "-r", expr, "--no-graph", "--limit", "10",
		"--template", `change_id.short() ++ " " ++ description.first_line() ++ "\n"`)
	if err != nil || !res.Ok() {
		return nil
	}
	var entries []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries
}

// parseStack reads jj log output (newest first) into revisions ordered oldest
// first, returning skipped empty revisions separately.
func parseStack(out string) (revs []*Revision, skippedEmpty []string) {
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) < 3 {
			continue
		}
		rev := &Revision{
			ChangeID: parts[0],
			CommitID: parts[1],
		}
		if len(parts) > 3 {
			rev.Description = strings.TrimSpace(parts[3])
		}
		if parts[2] == "empty" {
			skippedEmpty = append(skippedEmpty, fmt.Sprintf("%s (%s)", rev.ChangeID, rev.CommitID))
			continue
		}
		revs = append(revs, rev)
	}

	// jj log lists newest first; the stack is oldest first.
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	return revs, skippedEmpty
}

// fetchFullDescriptions fills FullDescription for each revision. A failed
// fetch falls back to the first line; it never fails the run.
func (c *Client) fetchFullDescriptions(ctx context.Context, revs []*Revision) {
	for _, rev := range revs {
		res, err := c.run.Run(ctx, "jj", "log", "-r", rev.ChangeID, "--no-graph", "--template", "description")
		if err == nil && res.Ok() && strings.TrimSpace(res.Stdout) != "" {
			rev.FullDescription = strings.TrimSpace(res.Stdout)
		} else {
			rev.FullDescription = rev.Description
		}
	}
}

// LocalBookmarks returns the managed local bookmark names.
func (c *Client) LocalBookmarks(ctx context.Context) map[string]bool {
	res, err := c.run.Run(ctx, "jj", "bookmark", "list", "--template", `name ++ "\n"`)
	if err != nil || !res.Ok() {
		return map[string]bool{}
	}

	bookmarks := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		name := strings.TrimSpace(line)
		if name != "" && c.cfg.IsManaged(name) {
			bookmarks[name] = true
		}
	}
	return bookmarks
}

// BookmarksSharingCommit returns commits carrying more than one managed
// bookmark. Two managed bookmarks on one commit mean two logical revisions
// were squashed together, leaving duplicate review requests behind.
func (c *Client) BookmarksSharingCommit(ctx context.Context) map[string][]string {
	res, err := c.run.Run(ctx, "jj", "log", "-r", "bookmarks()", "--no-graph",
		"--template", `commit_id.short(12) ++ " " ++ bookmarks.join(" ") ++ "\n"`)
	if err != nil || !res.Ok() {
		return map[string][]string{}
	}
	return parseSharedBookmarks(res.Stdout, c.cfg)
}

func parseSharedBookmarks(out string, cfg *config.Config) map[string][]string {
	shared := make(map[string][]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		names := managedBookmarkNames(parts[1], cfg)
		if len(names) > 1 {
			shared[parts[0]] = names
		}
	}
	return shared
}

// managedBookmarkNames filters a space-separated bookmark list down to
// managed names. A remote-tracking name (base@remote) whose base is managed
// is recorded as "base*" to mark it remote-only.
func managedBookmarkNames(list string, cfg *config.Config) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, bookmark := range strings.Fields(list) {
		if base, _, ok := strings.Cut(bookmark, "@"); ok {
			if cfg.IsManaged(base) {
				add(base + "*")
			}
			continue
		}
		if cfg.IsManaged(bookmark) {
			add(bookmark)
		}
	}
	return names
}

// identifierAlphabet is the character set jj uses for change ids: hex digits
// plus the reverse-hex letters k-z.
const identifierAlphabet = "0123456789abcdefklmnopqrstuvwxyz"

// RecentSquashTargets scans a bounded window of the operation log for squash
// and abandon entries and returns every token that looks like a change id.
// This is best-effort text scraping: false positives only widen the
// close-candidate set.
func (c *Client) RecentSquashTargets(ctx context.Context) map[string]bool {
	res, err := c.run.Run(ctx, "jj", "op", "log", "--limit", strconv.Itoa(c.cfg.OpLogLimit),
		"--no-graph", "--template", `id.short() ++ " " ++ description ++ "\n"`)
	if err != nil || !res.Ok() {
		return map[string]bool{}
	}

	ids := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if lower == "" {
			continue
		}
		if strings.Contains(lower, "squash") || strings.Contains(lower, "abandon") {
			for id := range extractIdentifiers(lower) {
				ids[id] = true
			}
		}
	}
	return ids
}

// extractIdentifiers pulls candidate change ids out of free text: tokens of
// length 8-12 drawn entirely from the jj identifier alphabet.
func extractIdentifiers(text string) map[string]bool {
	ids := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		if len(word) < 8 || len(word) > 12 {
			continue
		}
		if isIdentifier(word) {
			ids[strings.ToLower(word)] = true
		}
	}
	return ids
}

func isIdentifier(word string) bool {
	for _, c := range strings.ToLower(word) {
		if !strings.ContainsRune(identifierAlphabet, c) {
			return false
		}
	}
	return true
}
