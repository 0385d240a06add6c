// Package github talks to GitHub through the gh CLI and resolves repository
// coordinates from the configured git remote. Responses are decoded into
// explicit structs at the boundary; a malformed payload fails the read, not
// the whole run.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/njaremko/almighty-push/internal/config"
	"github.com/njaremko/almighty-push/internal/execx"
	"github.com/njaremko/almighty-push/internal/ui"
)

// PRSummary is one row of gh pr list output.
type PRSummary struct {
	Number      int    `json:"number"`
	HeadRefName string `json:"headRefName"`
	Title       string `json:"title"`
}

// PRDetail is the subset of gh pr view output the engine needs.
type PRDetail struct {
	Number      int    `json:"number"`
	URL         string `json:"url"`
	BaseRefName string `json:"baseRefName"`
	State       string `json:"state"`
}

// Client wraps the gh executable for one repository.
type Client struct {
	run execx.Runner
	cfg *config.Config
	out *ui.Printer

	repo string // owner/name, cached after the first resolve
}

// NewClient returns a GitHub client using the given runner and configuration.
func NewClient(run execx.Runner, cfg *config.Config, out *ui.Printer) *Client {
	return &Client{run: run, cfg: cfg, out: out}
}

// Repo resolves the owner/name pair from the configured remote, caching the
// result for the rest of the run.
func (c *Client) Repo(ctx context.Context) (string, error) {
	if c.repo != "" {
		return c.repo, nil
	}

	url, err := c.remoteURL(ctx)
	if err != nil {
		return "", err
	}
	repo, err := parseRepo(url)
	if err != nil {
		return "", err
	}
	c.repo = repo
	return repo, nil
}

func (c *Client) remoteURL(ctx context.Context) (string, error) {
	res, err := c.run.Run(ctx, "jj", "git", "remote", "get-url", c.cfg.Remote)
	if err == nil && res.Ok() && strings.TrimSpace(res.Stdout) != "" {
		return strings.TrimSpace(res.Stdout), nil
	}

	// Older jj versions lack get-url; fall back to scanning the remote list.
	res, err = c.run.Run(ctx, "jj", "git", "remote", "list")
	if err != nil {
		return "", fmt.Errorf("listing git remotes: %w", err)
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == c.cfg.Remote {
			return fields[1], nil
		}
	}
	return "", fmt.Errorf("remote %q not found", c.cfg.Remote)
}

// parseRepo extracts "owner/name" from a GitHub remote URL. The endpoint
// parser accepts https, ssh, and scp-like forms uniformly.
func parseRepo(url string) (string, error) {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return "", fmt.Errorf("parsing remote url %q: %w", url, err)
	}
	if !strings.Contains(strings.ToLower(ep.Host), "github.com") {
		return "", fmt.Errorf("remote %q is not a github.com repository", url)
	}
	path := strings.TrimSuffix(strings.Trim(ep.Path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("cannot determine owner/repo from %q", url)
	}
	return parts[0] + "/" + parts[1], nil
}

// RemoteBranches returns the managed branches that exist on GitHub. Failures
// degrade to an empty set with a warning: branch listing is an auxiliary
// read, and a run must survive a private repo or missing auth.
func (c *Client) RemoteBranches(ctx context.Context) map[string]bool {
	repo, err := c.Repo(ctx)
	if err != nil {
		c.out.Warnf("could not resolve repository: %v", err)
		return map[string]bool{}
	}

	res, err := c.run.Run(ctx, "gh", "api", fmt.Sprintf("repos/%s/branches", repo),
		"--paginate", "-q", ".[].name")
	if err != nil || !res.Ok() {
		c.out.Warnf("could not fetch branches from GitHub")
		return map[string]bool{}
	}

	branches := make(map[string]bool)
	for _, line := range strings.Split(res.Stdout, "\n") {
		name := strings.TrimSpace(line)
		if name != "" && c.cfg.IsManaged(name) {
			branches[name] = true
		}
	}
	return branches
}

// OpenPRs lists the open pull requests, managed and not.
func (c *Client) OpenPRs(ctx context.Context) ([]PRSummary, error) {
	return c.listPRs(ctx, "open")
}

// MergedPRs lists recently merged pull requests. Merged requests never show
// up in the open list, so branch cleanup for them needs its own query.
func (c *Client) MergedPRs(ctx context.Context) ([]PRSummary, error) {
	return c.listPRs(ctx, "merged")
}

func (c *Client) listPRs(ctx context.Context, prState string) ([]PRSummary, error) {
	repo, err := c.Repo(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "list", "--repo", repo, "--state", prState,
		"--json", "number,headRefName,title", "--limit", strconv.Itoa(c.cfg.PRListLimit))
	if err != nil {
		return nil, fmt.Errorf("running gh pr list: %w", err)
	}
	if !res.Ok() {
		return nil, fmt.Errorf("listing %s pull requests: %s", prState, strings.TrimSpace(res.Stderr))
	}
	var prs []PRSummary
	if err := json.Unmarshal([]byte(res.Stdout), &prs); err != nil {
		return nil, fmt.Errorf("decoding gh pr list output: %w", err)
	}
	return prs, nil
}

// ViewPR looks up a pull request by head branch name or number. It returns
// (nil, nil) when no request exists for the ref.
func (c *Client) ViewPR(ctx context.Context, ref string) (*PRDetail, error) {
	repo, err := c.Repo(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "view", ref, "--repo", repo,
		"--json", "number,url,baseRefName,state")
	if err != nil {
		return nil, fmt.Errorf("running gh pr view: %w", err)
	}
	if !res.Ok() {
		return nil, nil
	}
	var pr PRDetail
	if err := json.Unmarshal([]byte(res.Stdout), &pr); err != nil {
		return nil, fmt.Errorf("decoding gh pr view output: %w", err)
	}
	pr.State = normalizeState(pr.State)
	return &pr, nil
}

// CreatePR opens a new pull request and returns its URL.
func (c *Client) CreatePR(ctx context.Context, head, base, title, body string) (string, error) {
	repo, err := c.Repo(ctx)
	if err != nil {
		return "", err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "create", "--repo", repo,
		"--head", head, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return "", fmt.Errorf("running gh pr create: %w", err)
	}
	if !res.Ok() {
		return "", fmt.Errorf("creating pull request for %s: %s", head, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// EditPRBase retargets an existing pull request.
func (c *Client) EditPRBase(ctx context.Context, head, base string) error {
	repo, err := c.Repo(ctx)
	if err != nil {
		return err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "edit", head, "--repo", repo, "--base", base)
	if err != nil {
		return fmt.Errorf("running gh pr edit: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("updating base of %s to %s: %s", head, base, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// EditPRContent rewrites a pull request's title and body.
func (c *Client) EditPRContent(ctx context.Context, head, title, body string) error {
	repo, err := c.Repo(ctx)
	if err != nil {
		return err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "edit", head, "--repo", repo,
		"--title", title, "--body", body)
	if err != nil {
		return fmt.Errorf("running gh pr edit: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("updating pull request %s: %s", head, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ClosePR closes a pull request by number.
func (c *Client) ClosePR(ctx context.Context, number int) error {
	repo, err := c.Repo(ctx)
	if err != nil {
		return err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "close", strconv.Itoa(number), "--repo", repo)
	if err != nil {
		return fmt.Errorf("running gh pr close: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("closing pull request #%d: %s", number, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ReopenPR reopens a pull request by number.
func (c *Client) ReopenPR(ctx context.Context, number int) error {
	repo, err := c.Repo(ctx)
	if err != nil {
		return err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "reopen", strconv.Itoa(number), "--repo", repo)
	if err != nil {
		return fmt.Errorf("running gh pr reopen: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("reopening pull request #%d: %s", number, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CommentPR adds a comment to a pull request by number.
func (c *Client) CommentPR(ctx context.Context, number int, body string) error {
	repo, err := c.Repo(ctx)
	if err != nil {
		return err
	}
	res, err := c.run.Run(ctx, "gh", "pr", "comment", strconv.Itoa(number), "--repo", repo, "--body", body)
	if err != nil {
		return fmt.Errorf("running gh pr comment: %w", err)
	}
	if !res.Ok() {
		return fmt.Errorf("commenting on pull request #%d: %s", number, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// normalizeState maps gh's upper-case states to the lower-case vocabulary
// used across the tool.
func normalizeState(s string) string {
	switch s {
	case "OPEN":
		return "open"
	case "CLOSED":
		return "closed"
	case "MERGED":
		return "merged"
	default:
		return strings.ToLower(s)
	}
}
