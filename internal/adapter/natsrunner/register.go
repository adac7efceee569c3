package natsrunner

import (
	"context"
	"fmt"

	adapternats "github.com/sprintpilot/sprintpilot/internal/adapter/nats"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

func init() {
	sandbox.Register("nats", func(config map[string]string) (sandbox.Runner, error) {
		url := config["url"]
		if url == "" {
			return nil, fmt.Errorf("natsrunner: url is required")
		}
		queue, err := adapternats.Connect(context.Background(), url)
		if err != nil {
			return nil, err
		}
		return New(queue), nil
	})
}
