// Package breaker classifies the cumulative output of an agent run as stuck
// or not. Detection is a pure function over the log text: re-running it over
// a growing log never double-counts, and callers own de-duplication of
// repeated trips.
package breaker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TripType tags why the detector tripped.
type TripType string

const (
	TripNone       TripType = ""
	TripSameIssue  TripType = "same-issue"
	TripNoProgress TripType = "no-progress"
	TripTimeout    TripType = "timeout"
	TripMaxCycles  TripType = "max-cycles"
	TripGeneric    TripType = "generic"
)

// Classification is the derived verdict over a run's output. It is never
// persisted on its own; the session service copies the reason and context
// onto the paused session.
type Classification struct {
	Tripped bool              `json:"tripped"`
	Type    TripType          `json:"type,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

// Config holds the detection thresholds.
type Config struct {
	SameIssueThreshold int           // identical issue lines before tripping
	NoProgressCycles   int           // cycles without forward signal before tripping
	WallClock          time.Duration // wall-clock budget for a run
	MaxCycles          int           // hard cap on iteration count
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SameIssueThreshold: 3,
		NoProgressCycles:   5,
		WallClock:          8 * time.Hour,
		MaxCycles:          20,
	}
}

// Detector classifies run output against configured thresholds.
// The zero value is not usable; construct with New.
type Detector struct {
	cfg Config
	now func() time.Time // swappable for testing
}

// New creates a Detector, filling unset thresholds from DefaultConfig.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SameIssueThreshold <= 0 {
		cfg.SameIssueThreshold = def.SameIssueThreshold
	}
	if cfg.NoProgressCycles <= 0 {
		cfg.NoProgressCycles = def.NoProgressCycles
	}
	if cfg.WallClock <= 0 {
		cfg.WallClock = def.WallClock
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = def.MaxCycles
	}
	return &Detector{cfg: cfg, now: time.Now}
}

var (
	issueLine = regexp.MustCompile(`(?i)(error|exception|traceback|failure|failed|issue)`)
	cycleLine = regexp.MustCompile(`(?i)^\W*(cycle|iteration|loop)\b`)
	progressLine = regexp.MustCompile(
		`(?i)(files? changed|lines? (added|removed)|applied patch|wrote |committed|created file|modified )`)
	tripLine = regexp.MustCompile(
		`(?i)(circuit.breaker|i('| a)?m stuck|cannot proceed|unable to continue|giving up)`)
	successLine = regexp.MustCompile(
		`(?i)(all tasks completed|sprint complete[d]?|pull request opened|change request opened|implementation complete)`)
)

// Detect classifies the cumulative log of a run that started at startedAt.
// Checks run in fixed priority order and the first match wins; the order is
// load-bearing because it decides which reason text operators see.
func (d *Detector) Detect(log string, startedAt time.Time) Classification {
	lines := strings.Split(log, "\n")

	if c, ok := d.sameIssue(lines); ok {
		return c
	}
	if c, ok := d.noProgress(lines); ok {
		return c
	}
	if !startedAt.IsZero() {
		if elapsed := d.now().Sub(startedAt); elapsed >= d.cfg.WallClock {
			return Classification{
				Tripped: true,
				Type:    TripTimeout,
				Reason:  fmt.Sprintf("wall-clock budget of %s exceeded", d.cfg.WallClock),
				Context: map[string]string{"elapsed": elapsed.Truncate(time.Second).String()},
			}
		}
	}
	if cycles := countCycles(lines); cycles >= d.cfg.MaxCycles {
		return Classification{
			Tripped: true,
			Type:    TripMaxCycles,
			Reason:  fmt.Sprintf("hit the hard cap of %d cycles", d.cfg.MaxCycles),
			Context: map[string]string{"cycles": strconv.Itoa(cycles)},
		}
	}
	if m := tripLine.FindString(log); m != "" {
		return Classification{
			Tripped: true,
			Type:    TripGeneric,
			Reason:  fmt.Sprintf("agent reported it is stuck: %q", m),
		}
	}
	return Classification{}
}

// IsSuccessfulCompletion reports whether the log contains an explicit success
// signal. It is independent of Detect: an agent can go quiet without being
// stuck, so callers need "is it done" and "is it stuck" as separate questions.
func (d *Detector) IsSuccessfulCompletion(log string) bool {
	return successLine.MatchString(log)
}

// CycleCount returns the number of iteration markers seen so far.
func (d *Detector) CycleCount(log string) int {
	return countCycles(strings.Split(log, "\n"))
}

// sameIssue trips when an identical issue line recurs at least the threshold
// number of times. The repeated text is captured verbatim for operator review.
func (d *Detector) sameIssue(lines []string) (Classification, bool) {
	counts := make(map[string]int)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || !issueLine.MatchString(line) || successLine.MatchString(line) {
			continue
		}
		counts[line]++
		if counts[line] >= d.cfg.SameIssueThreshold {
			return Classification{
				Tripped: true,
				Type:    TripSameIssue,
				Reason:  fmt.Sprintf("same issue seen %d times: %s", counts[line], line),
				Context: map[string]string{
					"issue": line,
					"count": strconv.Itoa(counts[line]),
				},
			}, true
		}
	}
	return Classification{}, false
}

// noProgress trips when the threshold number of cycles pass after the last
// forward signal (file change, commit, patch).
func (d *Detector) noProgress(lines []string) (Classification, bool) {
	sinceProgress := 0
	for _, line := range lines {
		switch {
		case progressLine.MatchString(line):
			sinceProgress = 0
		case cycleLine.MatchString(strings.TrimSpace(line)):
			sinceProgress++
		}
	}
	if sinceProgress >= d.cfg.NoProgressCycles {
		return Classification{
			Tripped: true,
			Type:    TripNoProgress,
			Reason:  fmt.Sprintf("no forward progress for %d cycles", sinceProgress),
			Context: map[string]string{"cycles": strconv.Itoa(sinceProgress)},
		}, true
	}
	return Classification{}, false
}

func countCycles(lines []string) int {
	n := 0
	for _, line := range lines {
		if cycleLine.MatchString(strings.TrimSpace(line)) {
			n++
		}
	}
	return n
}
