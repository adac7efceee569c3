// Package github implements a gitprovider.Provider for GitHub using the gh CLI.
package github

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sprintpilot/sprintpilot/internal/git"
	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
)

const providerName = "github"

// maxConcurrentCLI bounds simultaneous gh subprocesses.
const maxConcurrentCLI = 4

// Provider implements gitprovider.Provider for GitHub via the gh CLI.
type Provider struct {
	pool *git.Pool

	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func newProvider() *Provider {
	return &Provider{
		pool:        git.NewPool(maxConcurrentCLI),
		execCommand: exec.CommandContext,
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{
		Clone:       true,
		DraftPR:     true,
		BranchProbe: true,
	}
}

// CloneURL returns the HTTPS clone URL for an owner/name repository.
func (p *Provider) CloneURL(_ context.Context, repo string) (string, error) {
	if err := validateRepo(repo); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s.git", repo), nil
}

// BranchExists probes the remote via `gh api`; a 404 from the API means the
// branch is not there, any other failure is an error.
func (p *Provider) BranchExists(ctx context.Context, repo, branch string) (bool, error) {
	if err := validateRepo(repo); err != nil {
		return false, err
	}

	cmd := p.execCommand(ctx, "gh", "api",
		fmt.Sprintf("repos/%s/branches/%s", repo, branch),
		"--jq", ".name",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := p.pool.Run(ctx, cmd.Run); err != nil {
		if strings.Contains(stderr.String(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("gh api branch probe: %s: %w", stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()) == branch, nil
}

// OpenDraftPR opens a draft pull request and returns its URL.
func (p *Provider) OpenDraftPR(ctx context.Context, pr gitprovider.PullRequest) (string, error) {
	if err := validateRepo(pr.Repo); err != nil {
		return "", err
	}
	if pr.Head == "" || pr.Base == "" {
		return "", fmt.Errorf("pull request needs head and base branches")
	}

	cmd := p.execCommand(ctx, "gh", "pr", "create",
		"--repo", pr.Repo,
		"--head", pr.Head,
		"--base", pr.Base,
		"--title", pr.Title,
		"--body", pr.Body,
		"--draft",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := p.pool.Run(ctx, cmd.Run); err != nil {
		return "", fmt.Errorf("gh pr create: %s: %w", stderr.String(), err)
	}

	// gh prints the PR URL as the last line of stdout.
	lines := strings.Fields(strings.TrimSpace(stdout.String()))
	if len(lines) == 0 {
		return "", fmt.Errorf("gh pr create: no URL in output")
	}
	url := lines[len(lines)-1]
	if !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("gh pr create: unexpected output %q", url)
	}
	return url, nil
}

func validateRepo(repo string) error {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo %q: expected owner/name", repo)
	}
	return nil
}
