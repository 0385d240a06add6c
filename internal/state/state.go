// Package state persists cross-run reconciliation state as a single JSON
// document in the working directory. The file is the tool's memory of which
// change each branch and pull request was created for; losing it degrades
// orphan detection but never corrupts the remote.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PR records the pull request resolved for a change id during a run.
type PR struct {
	PRNumber    int       `json:"pr_number"`
	PRURL       string    `json:"pr_url"`
	BranchName  string    `json:"branch_name"`
	CommitID    string    `json:"commit_id"`
	Description string    `json:"description"`
	LastSeen    time.Time `json:"last_seen"`
}

// ClosedPR records a pull request this tool closed and why, keyed by branch
// name in State. It is what lets a later run reopen the request instead of
// creating a duplicate.
type ClosedPR struct {
	PRNumber int       `json:"pr_number"`
	ClosedAt time.Time `json:"closed_at"`
	Reason   string    `json:"reason"`
}

// State is the persisted document.
type State struct {
	LastRun   time.Time           `json:"last_run"`
	PRs       map[string]PR       `json:"prs"`            // change_id -> PR
	ClosedPRs map[string]ClosedPR `json:"closed_prs_map"` // branch_name -> ClosedPR
	Bookmarks []string            `json:"bookmarks"`      // managed local bookmarks at end of run
}

// Empty returns a usable zero state.
func Empty() *State {
	return &State{
		PRs:       make(map[string]PR),
		ClosedPRs: make(map[string]ClosedPR),
	}
}

// TrackedIDs returns the set of change ids recorded in the previous run.
func (s *State) TrackedIDs() map[string]bool {
	ids := make(map[string]bool, len(s.PRs))
	for id := range s.PRs {
		ids[id] = true
	}
	return ids
}

// PreviousBookmarks returns the bookmark set observed at the end of the
// previous run.
func (s *State) PreviousBookmarks() map[string]bool {
	set := make(map[string]bool, len(s.Bookmarks))
	for _, b := range s.Bookmarks {
		set[b] = true
	}
	return set
}

// Store reads and writes the state file.
type Store struct {
	path string
}

// NewStore returns a store for the given path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the state file. A missing file yields an empty state. A corrupt
// file is backed up to <path>.corrupt and also yields an empty state; load
// never fails the run.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Empty()
	}

	st := Empty()
	if err := json.Unmarshal(data, st); err != nil {
		// Keep the unreadable document for forensics, then start over.
		_ = os.WriteFile(s.path+".corrupt", data, 0o644)
		return Empty()
	}
	if st.PRs == nil {
		st.PRs = make(map[string]PR)
	}
	if st.ClosedPRs == nil {
		st.ClosedPRs = make(map[string]ClosedPR)
	}
	return st
}

// Save writes the document atomically via a temp file and rename.
func (s *Store) Save(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
