package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "main")
	}
	if cfg.Remote != "origin" {
		t.Errorf("Remote = %q, want %q", cfg.Remote, "origin")
	}
	if cfg.StateFile != ".almighty" {
		t.Errorf("StateFile = %q, want %q", cfg.StateFile, ".almighty")
	}
	if cfg.OpLogLimit != 50 {
		t.Errorf("OpLogLimit = %d, want 50", cfg.OpLogLimit)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	data := "base_branch: develop\nremote: upstream\nop_log_limit: 25\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "develop")
	}
	if cfg.Remote != "upstream" {
		t.Errorf("Remote = %q, want %q", cfg.Remote, "upstream")
	}
	if cfg.OpLogLimit != 25 {
		t.Errorf("OpLogLimit = %d, want 25", cfg.OpLogLimit)
	}
	// Unspecified fields keep defaults.
	if cfg.StateFile != ".almighty" {
		t.Errorf("StateFile = %q, want %q", cfg.StateFile, ".almighty")
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	data := "base_branch: develop\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ALMIGHTY_BASE_BRANCH", "trunk")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseBranch != "trunk" {
		t.Errorf("BaseBranch = %q, want %q", cfg.BaseBranch, "trunk")
	}
}

func TestLoadBadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte("base_branch: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load with malformed YAML should fail")
	}
}

func TestIsManaged(t *testing.T) {
	cfg := Default()
	tests := []struct {
		name string
		want bool
	}{
		{"push-abc123def456", true},
		{"changes/abc123def456", true},
		{"main", false},
		{"feature/push-abc", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := cfg.IsManaged(tc.name); got != tc.want {
			t.Errorf("IsManaged(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestChangeIDFromBranch(t *testing.T) {
	cfg := Default()
	tests := []struct {
		name string
		want string
	}{
		{"push-abc123def456", "abc123def456"},
		{"changes/xyz", "xyz"},
		{"main", ""},
	}
	for _, tc := range tests {
		if got := cfg.ChangeIDFromBranch(tc.name); got != tc.want {
			t.Errorf("ChangeIDFromBranch(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFallbackBranch(t *testing.T) {
	cfg := Default()
	if got := cfg.FallbackBranch("abcdef01234567890"); got != "push-abcdef012345" {
		t.Errorf("FallbackBranch(long) = %q, want %q", got, "push-abcdef012345")
	}
	if got := cfg.FallbackBranch("abc"); got != "push-abc" {
		t.Errorf("FallbackBranch(short) = %q, want %q", got, "push-abc")
	}
}
