package gitprovider

import "testing"

func TestRepoSlug(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://github.com/owner/repo.git", "owner/repo", false},
		{"https://github.com/owner/repo", "owner/repo", false},
		{"git@github.com:owner/repo.git", "owner/repo", false},
		{"https://gitlab.example.com/group/project.git", "group/project", false},
		{"owner/repo", "owner/repo", false},
		{"", "", true},
		{"https://github.com/", "", true},
		{"justaname", "", true},
	}

	for _, tt := range tests {
		got, err := RepoSlug(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("RepoSlug(%q): want error, got %q", tt.url, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("RepoSlug(%q): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RepoSlug(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
