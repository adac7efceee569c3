package github

import (
	"context"
	"os/exec"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
)

func TestValidateRepo(t *testing.T) {
	tests := []struct {
		repo  string
		valid bool
	}{
		{"owner/repo", true},
		{"org/my-project", true},
		{"", false},
		{"noslash", false},
		{"/repo", false},
		{"owner/", false},
		{"a/b/c", false},
	}

	for _, tt := range tests {
		err := validateRepo(tt.repo)
		if tt.valid && err != nil {
			t.Errorf("expected %q to be valid, got error: %v", tt.repo, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("expected %q to be invalid, got nil error", tt.repo)
		}
	}
}

func TestProviderName(t *testing.T) {
	p := newProvider()
	if p.Name() != "github" {
		t.Fatalf("expected name 'github', got %q", p.Name())
	}
}

func TestProviderCapabilities(t *testing.T) {
	p := newProvider()
	caps := p.Capabilities()
	if !caps.Clone || !caps.DraftPR || !caps.BranchProbe {
		t.Fatal("expected Clone=true, DraftPR=true, BranchProbe=true")
	}
}

func TestCloneURL(t *testing.T) {
	p := newProvider()
	url, err := p.CloneURL(context.Background(), "owner/repo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://github.com/owner/repo.git" {
		t.Errorf("unexpected clone URL %q", url)
	}
}

func TestCloneURL_InvalidRepo(t *testing.T) {
	p := newProvider()
	if _, err := p.CloneURL(context.Background(), "invalid"); err == nil {
		t.Fatal("expected error for invalid repo")
	}
}

func TestOpenDraftPR_CommandConstruction(t *testing.T) {
	var capturedArgs []string
	p := &Provider{
		execCommand: func(_ context.Context, name string, args ...string) *exec.Cmd {
			capturedArgs = append([]string{name}, args...)
			return exec.Command("echo", "https://github.com/owner/repo/pull/7")
		},
	}

	url, err := p.OpenDraftPR(context.Background(), gitprovider.PullRequest{
		Repo:  "owner/repo",
		Head:  "sprint/auth",
		Base:  "main",
		Title: "Sprint: auth",
		Body:  "Automated sprint run.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://github.com/owner/repo/pull/7" {
		t.Errorf("expected PR URL, got %q", url)
	}

	expected := []string{
		"gh", "pr", "create",
		"--repo", "owner/repo",
		"--head", "sprint/auth",
		"--base", "main",
		"--title", "Sprint: auth",
		"--body", "Automated sprint run.",
		"--draft",
	}
	if len(capturedArgs) != len(expected) {
		t.Fatalf("expected %d args, got %d: %v", len(expected), len(capturedArgs), capturedArgs)
	}
	for i, exp := range expected {
		if capturedArgs[i] != exp {
			t.Errorf("arg[%d]: expected %q, got %q", i, exp, capturedArgs[i])
		}
	}
}

func TestOpenDraftPR_MissingBranches(t *testing.T) {
	p := newProvider()
	_, err := p.OpenDraftPR(context.Background(), gitprovider.PullRequest{Repo: "owner/repo"})
	if err == nil {
		t.Fatal("expected error for missing head/base")
	}
}

func TestBranchExists_CommandConstruction(t *testing.T) {
	var capturedArgs []string
	p := &Provider{
		execCommand: func(_ context.Context, name string, args ...string) *exec.Cmd {
			capturedArgs = append([]string{name}, args...)
			return exec.Command("echo", "sprint/auth")
		},
	}

	exists, err := p.BranchExists(context.Background(), "owner/repo", "sprint/auth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("expected branch to exist")
	}

	expected := []string{"gh", "api", "repos/owner/repo/branches/sprint/auth", "--jq", ".name"}
	if len(capturedArgs) != len(expected) {
		t.Fatalf("expected %d args, got %d: %v", len(expected), len(capturedArgs), capturedArgs)
	}
	for i, exp := range expected {
		if capturedArgs[i] != exp {
			t.Errorf("arg[%d]: expected %q, got %q", i, exp, capturedArgs[i])
		}
	}
}
