package gitprovider

import (
	"fmt"
	"strings"
)

// RepoSlug derives "owner/name" from a clone URL. It understands HTTPS and
// SSH forms of the common hosting providers.
func RepoSlug(repoURL string) (string, error) {
	u := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")

	if at := strings.Index(u, "@"); at >= 0 && strings.Contains(u[at:], ":") && !strings.Contains(u, "://") {
		// SSH form: git@host:owner/name
		u = u[strings.Index(u, ":")+1:]
	} else if i := strings.Index(u, "://"); i >= 0 {
		// HTTPS form: scheme://host/owner/name
		u = u[i+3:]
		if slash := strings.Index(u, "/"); slash >= 0 {
			u = u[slash+1:]
		}
	}

	parts := strings.Split(strings.Trim(u, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("cannot derive owner/name from %q", repoURL)
	}
	return parts[len(parts)-2] + "/" + parts[len(parts)-1], nil
}
