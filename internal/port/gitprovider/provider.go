// Package gitprovider defines the Git hosting provider port (interface) and capabilities.
package gitprovider

import "context"

// Capabilities declares which operations a git provider supports.
type Capabilities struct {
	Clone       bool `json:"clone"`
	DraftPR     bool `json:"draft_pr"`
	BranchProbe bool `json:"branch_probe"`
}

// PullRequest describes a pull request to open against a repository.
type PullRequest struct {
	Repo  string `json:"repo"` // owner/name
	Head  string `json:"head"` // source branch
	Base  string `json:"base"` // merge target branch
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Provider is the port interface for interacting with a Git hosting platform.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "github").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// CloneURL returns the clone URL for a given repository identifier.
	CloneURL(ctx context.Context, repo string) (string, error)

	// BranchExists reports whether the named branch exists on the remote.
	BranchExists(ctx context.Context, repo, branch string) (bool, error)

	// OpenDraftPR opens a draft pull request and returns its URL.
	OpenDraftPR(ctx context.Context, pr PullRequest) (string, error)
}
