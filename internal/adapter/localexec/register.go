package localexec

import (
	"time"

	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
)

func init() {
	sandbox.Register(runnerName, func(config map[string]string) (sandbox.Runner, error) {
		stopTimeout, _ := time.ParseDuration(config["stop_timeout"])
		return New(config["command"], config["work_dir"], stopTimeout), nil
	})
}
