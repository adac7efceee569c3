// Package target defines the registry entry for a repository a session acts on.
package target

import (
	"fmt"

	"github.com/sprintpilot/sprintpilot/internal/domain"
)

// Target is one registry entry. Read-mostly; mutated only by administrative
// operations, never by the orchestrator itself.
type Target struct {
	ID            string `json:"id"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch"`
	Enabled       bool   `json:"enabled"`
	InstallRef    string `json:"install_ref,omitempty"` // auth/installation reference on the VCS host
	Provider      string `json:"provider,omitempty"`    // git provider name, e.g. "github"
}

// Validate checks the structural invariants of a registry entry.
func (t *Target) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: target id is required", domain.ErrValidation)
	}
	if t.RepoURL == "" {
		return fmt.Errorf("%w: repo_url is required", domain.ErrValidation)
	}
	if t.DefaultBranch == "" {
		return fmt.Errorf("%w: default_branch is required", domain.ErrValidation)
	}
	return nil
}

// UpdateRequest carries admin-mutable fields. Nil pointers leave the field unchanged.
type UpdateRequest struct {
	RepoURL       *string `json:"repo_url,omitempty"`
	DefaultBranch *string `json:"default_branch,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
	InstallRef    *string `json:"install_ref,omitempty"`
	Provider      *string `json:"provider,omitempty"`
}

// Apply overlays the non-nil fields of req onto t.
func (t *Target) Apply(req UpdateRequest) {
	if req.RepoURL != nil {
		t.RepoURL = *req.RepoURL
	}
	if req.DefaultBranch != nil {
		t.DefaultBranch = *req.DefaultBranch
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
	if req.InstallRef != nil {
		t.InstallRef = *req.InstallRef
	}
	if req.Provider != nil {
		t.Provider = *req.Provider
	}
}
