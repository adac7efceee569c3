package messagequeue

// SessionEventPayload is the schema for all sessions.* messages.
type SessionEventPayload struct {
	SessionID  string `json:"session_id"`
	TargetID   string `json:"target_id"`
	Unit       string `json:"unit"`
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	PRURL      string `json:"pr_url,omitempty"`
	Error      string `json:"error,omitempty"`
	ChannelRef string `json:"channel_ref,omitempty"`
}

// RunStartPayload is the schema for runs.start messages.
type RunStartPayload struct {
	SessionID string            `json:"session_id"`
	TargetID  string            `json:"target_id"`
	RepoURL   string            `json:"repo_url"`
	Branch    string            `json:"branch"`
	Unit      string            `json:"unit"`
	Resume    bool              `json:"resume"`
	Env       map[string]string `json:"env,omitempty"`
}

// RunOutputPayload is the schema for runs.output.{sessionID} messages.
type RunOutputPayload struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
	Text      string `json:"text"`
}

// RunResultPayload is the schema for runs.result.{sessionID} messages.
type RunResultPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
	Error     string `json:"error,omitempty"`
}

// RunCancelPayload is the schema for runs.cancel messages.
type RunCancelPayload struct {
	SessionID string `json:"session_id"`
}

// LogLinePayload is the schema for logs.line messages.
type LogLinePayload struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"`
	Text      string `json:"text"`
}
