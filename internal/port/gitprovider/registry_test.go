package gitprovider_test

import (
	"context"
	"testing"

	"github.com/sprintpilot/sprintpilot/internal/port/gitprovider"
)

type testProvider struct {
	name string
}

func (p *testProvider) Name() string { return p.name }
func (p *testProvider) Capabilities() gitprovider.Capabilities {
	return gitprovider.Capabilities{Clone: true}
}
func (p *testProvider) CloneURL(_ context.Context, _ string) (string, error) { return "", nil }
func (p *testProvider) BranchExists(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}
func (p *testProvider) OpenDraftPR(_ context.Context, _ gitprovider.PullRequest) (string, error) {
	return "", nil
}

func TestRegisterAndNew(t *testing.T) {
	gitprovider.Register("test-git", func(_ map[string]string) (gitprovider.Provider, error) {
		return &testProvider{name: "test-git"}, nil
	})

	p, err := gitprovider.New("test-git", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "test-git" {
		t.Errorf("Name = %q, want %q", p.Name(), "test-git")
	}
	if !p.Capabilities().Clone {
		t.Error("Capabilities.Clone = false, want true")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := gitprovider.New("does-not-exist", nil); err == nil {
		t.Fatal("New with unknown provider: want error, got nil")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	gitprovider.Register("dup-git", func(_ map[string]string) (gitprovider.Provider, error) {
		return &testProvider{name: "dup-git"}, nil
	})
	gitprovider.Register("dup-git", func(_ map[string]string) (gitprovider.Provider, error) {
		return &testProvider{name: "dup-git"}, nil
	})
}

func TestAvailable(t *testing.T) {
	gitprovider.Register("avail-git", func(_ map[string]string) (gitprovider.Provider, error) {
		return &testProvider{name: "avail-git"}, nil
	})

	found := false
	for _, name := range gitprovider.Available() {
		if name == "avail-git" {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing avail-git", gitprovider.Available())
	}
}
