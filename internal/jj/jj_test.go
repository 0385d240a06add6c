package jj

import (
	"errors"
	"strings"
	"testing"

	"github.com/njaremko/almighty-push/internal/config"
	"github.com/njaremko/almighty-push/internal/ui"
)

func TestParseStack(t *testing.T) {
	// jj log lists newest first; the parsed stack must come back oldest first.
	out := "cccc3333cccc\t333333333333\t-\tthird change\n" +
		"bbbb2222bbbb\t222222222222\tempty\t\n" +
		"aaaa1111aaaa\t111111111111\t-\tfirst change\n"

	revs, skipped := parseStack(out)
	if len(revs) != 2 {
		t.Fatalf("got %d revisions, want 2", len(revs))
	}
	if revs[0].ChangeID != "aaaa1111aaaa" || revs[1].ChangeID != "cccc3333cccc" {
		t.Errorf("stack order = [%s, %s], want oldest first", revs[0].ChangeID, revs[1].ChangeID)
	}
	if revs[0].Description != "first change" {
		t.Errorf("Description = %q, want %q", revs[0].Description, "first change")
	}
	if len(skipped) != 1 {
		t.Fatalf("got %d skipped, want 1", len(skipped))
	}
	if skipped[0] != "bbbb2222bbbb (222222222222)" {
		t.Errorf("skipped = %q", skipped[0])
	}
}

func TestParseStackIgnoresMalformedLines(t *testing.T) {
	out := "garbage without tabs\n\naaaa1111aaaa\t111111111111\t-\tok\n"
	revs, _ := parseStack(out)
	if len(revs) != 1 {
		t.Fatalf("got %d revisions, want 1", len(revs))
	}
	if revs[0].ChangeID != "aaaa1111aaaa" {
		t.Errorf("ChangeID = %q", revs[0].ChangeID)
	}
}

func TestMissingDescriptionsError(t *testing.T) {
	fr := &fakeRunner{stubs: []stub{
		{match: "jj log -r main@origin..@", stdout: "aaaa1111aaaa\t111111111111\t-\t\n"},
	}}
	c := NewClient(fr, config.Default(), ui.Discard())

	_, err := c.Stack(t.Context())
	var missing *MissingDescriptionsError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingDescriptionsError", err)
	}
	if len(missing.ChangeIDs) != 1 {
		t.Errorf("ChangeIDs = %v, want one entry", missing.ChangeIDs)
	}
}

func TestStackRejectsDivergence(t *testing.T) {
	stackOut := "bbbb2222bbbb\t222222222222\t-\tsecond head\n" +
		"aaaa1111aaaa\t111111111111\t-\tfirst head\n"

	t.Run("multiple heads", func(t *testing.T) {
		fr := &fakeRunner{stubs: []stub{
			{match: "jj log -r main@origin..@", stdout: stackOut},
			{match: "heads(", stdout: "aaaa1111 first head\nbbbb2222 second head\n"},
		}}
		c := NewClient(fr, config.Default(), ui.Discard())

		_, err := c.Stack(t.Context())
		if err == nil {
			t.Fatal("divergent stack should fail")
		}
		if !strings.Contains(err.Error(), "multiple stack heads") {
			t.Errorf("err = %v", err)
		}
		if !strings.Contains(err.Error(), "jj rebase") {
			t.Errorf("missing remediation hint: %v", err)
		}
	})

	t.Run("multiple roots", func(t *testing.T) {
		fr := &fakeRunner{stubs: []stub{
			{match: "jj log -r main@origin..@", stdout: stackOut},
			{match: "heads(", stdout: "bbbb2222 second head\n"},
			{match: "roots(", stdout: "aaaa1111 first root\ncccc3333 second root\n"},
		}}
		c := NewClient(fr, config.Default(), ui.Discard())

		_, err := c.Stack(t.Context())
		if err == nil {
			t.Fatal("multi-rooted stack should fail")
		}
		if !strings.Contains(err.Error(), "multiple independent roots") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("single head and root passes", func(t *testing.T) {
		fr := &fakeRunner{stubs: []stub{
			{match: "--template description", stdout: "x\n"},
			{match: "jj log -r main@origin..@", stdout: stackOut},
			{match: "heads(", stdout: "bbbb2222 second head\n"},
			{match: "roots(", stdout: "aaaa1111 first head\n"},
		}}
		c := NewClient(fr, config.Default(), ui.Discard())

		revs, err := c.Stack(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if len(revs) != 2 {
			t.Errorf("got %d revisions, want 2", len(revs))
		}
	})
}

func TestStackSurveyToleratesMissingDescriptions(t *testing.T) {
	stackOut := "bbbb2222bbbb\t222222222222\t-\t\n" +
		"aaaa1111aaaa\t111111111111\t-\tfirst change\n"
	fr := &fakeRunner{stubs: []stub{
		{match: "jj log -r main@origin..@", stdout: stackOut},
	}}
	c := NewClient(fr, config.Default(), ui.Discard())

	revs, missing, err := c.StackSurvey(t.Context())
	if err != nil {
		t.Fatalf("StackSurvey: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("got %d revisions, want 2", len(revs))
	}
	if len(missing) != 1 || !strings.Contains(missing[0], "bbbb2222bbbb") {
		t.Errorf("missing = %v", missing)
	}
}

func TestStackFetchesFullDescriptions(t *testing.T) {
	fr := &fakeRunner{stubs: []stub{
		{match: "--template description", stdout: "first change\n\nlonger body here\n"},
		{match: "jj log -r main@origin..@", stdout: "aaaa1111aaaa\t111111111111\t-\tfirst change\n"},
	}}
	c := NewClient(fr, config.Default(), ui.Discard())

	revs, err := c.Stack(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if revs[0].FullDescription != "first change\n\nlonger body here" {
		t.Errorf("FullDescription = %q", revs[0].FullDescription)
	}
}

func TestParseSharedBookmarks(t *testing.T) {
	cfg := config.Default()
	out := "111111111111 push-aaaa1111 push-bbbb2222@origin\n" +
		"222222222222 push-cccc3333\n" +
		"333333333333 main feature-x\n"

	shared := parseSharedBookmarks(out, cfg)
	if len(shared) != 1 {
		t.Fatalf("got %d shared commits, want 1", len(shared))
	}
	names := shared["111111111111"]
	if len(names) != 2 || names[0] != "push-aaaa1111" || names[1] != "push-bbbb2222*" {
		t.Errorf("names = %v, want [push-aaaa1111 push-bbbb2222*]", names)
	}
}

func TestExtractIdentifiers(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"squash commits xyzkmnop into qqrrsstt9900", []string{"xyzkmnop", "qqrrsstt9900"}},
		{"abandon commit toolongidentifier1", nil},
		{"short ab12", nil},
		{"has-punct abc12345!", nil},
		{"hexish deadbeef", []string{"deadbeef"}},
	}
	for _, tc := range tests {
		got := extractIdentifiers(tc.text)
		if len(got) != len(tc.want) {
			t.Errorf("extractIdentifiers(%q) = %v, want %v", tc.text, got, tc.want)
			continue
		}
		for _, id := range tc.want {
			if !got[id] {
				t.Errorf("extractIdentifiers(%q) missing %q", tc.text, id)
			}
		}
	}
}

func TestIsIdentifier(t *testing.T) {
	if isIdentifier("abcdefgh") {
		t.Error("g and h are outside the jj alphabet")
	}
	if !isIdentifier("abcdefkl") {
		t.Error("abcdefkl should be a valid identifier")
	}
	if !isIdentifier("01234567") {
		t.Error("digits should be valid")
	}
}

func TestAssignBranchNames(t *testing.T) {
	cfg := config.Default()
	c := NewClient(nil, cfg, ui.Discard())

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "creating branch phrasing",
			output: "Creating branch push-aaaa1111aaaa for revision aaaa1111aaaa",
			want:   "push-aaaa1111aaaa",
		},
		{
			name:   "for revision phrasing",
			output: "push-aaaa1111 for revision aaaa1111aaaa",
			want:   "push-aaaa1111",
		},
		{
			name:   "branch colon phrasing",
			output: "Add branch: push-aaaa1111aaaa",
			want:   "push-aaaa1111aaaa",
		},
		{
			name:   "no match falls back to deterministic name",
			output: "Nothing useful in here",
			want:   "push-aaaa1111aaaa",
		},
		{
			name:   "mismatched id falls back",
			output: "Creating branch push-ffff9999ffff for revision ffff9999ffff",
			want:   "push-aaaa1111aaaa",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rev := &Revision{ChangeID: "aaaa1111aaaa"}
			c.assignBranchNames(tc.output, []*Revision{rev})
			if rev.BranchName != tc.want {
				t.Errorf("BranchName = %q, want %q", rev.BranchName, tc.want)
			}
		})
	}
}

func TestMatchesChangeID(t *testing.T) {
	tests := []struct {
		branch   string
		changeID string
		want     bool
	}{
		{"push-aaaa1111aaaa", "aaaa1111aaaa", true},
		{"push-aaaa11", "aaaa1111aaaa", true},
		{"changes/aaaa1111", "aaaa1111aaaa", true},
		{"push-bbbb2222", "aaaa1111aaaa", false},
		{"push-ab", "ab", true},
	}
	for _, tc := range tests {
		if got := matchesChangeID(tc.branch, tc.changeID); got != tc.want {
			t.Errorf("matchesChangeID(%q, %q) = %v, want %v", tc.branch, tc.changeID, got, tc.want)
		}
	}
}

func TestExtractPRNumber(t *testing.T) {
	tests := []struct {
		rev  Revision
		want int
	}{
		{Revision{PRNumber: 7}, 7},
		{Revision{PRURL: "https://github.com/alice/proj/pull/42"}, 42},
		{Revision{PRURL: "not-a-url"}, 0},
		{Revision{}, 0},
	}
	for _, tc := range tests {
		if got := tc.rev.ExtractPRNumber(); got != tc.want {
			t.Errorf("ExtractPRNumber(%+v) = %d, want %d", tc.rev, got, tc.want)
		}
	}
}

func TestRecentSquashTargets(t *testing.T) {
	fr := &fakeRunner{stubs: []stub{
		{match: "jj op log", stdout: "op1 squash commits x1x1x1x1x1x1 into y2y2y2y2\n" +
			"op2 new empty commit\n" +
			"op3 abandon commit z3z3z3z3z3z3\n"},
	}}
	c := NewClient(fr, config.Default(), ui.Discard())

	ids := c.RecentSquashTargets(t.Context())
	for _, want := range []string{"x1x1x1x1x1x1", "y2y2y2y2", "z3z3z3z3z3z3"} {
		if !ids[want] {
			t.Errorf("missing id %q in %v", want, ids)
		}
	}
	if len(ids) != 3 {
		t.Errorf("got %d ids, want 3: %v", len(ids), ids)
	}
}
