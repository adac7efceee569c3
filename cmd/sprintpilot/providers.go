package main

// Provider blank imports — each import activates a self-registering adapter.
// Add new providers here as they are implemented.

import (
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/discord"
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/email"
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/github"
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/localexec"
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/natsrunner"
	_ "github.com/sprintpilot/sprintpilot/internal/adapter/slack"
)
