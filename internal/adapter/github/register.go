package github

import "github.com/sprintpilot/sprintpilot/internal/port/gitprovider"

func init() {
	gitprovider.Register(providerName, func(_ map[string]string) (gitprovider.Provider, error) {
		return newProvider(), nil
	})
}
