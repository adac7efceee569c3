package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
)

// Event type constants for WebSocket messages.
const (
	EventSessionState = "session.state"
	EventSessionLog   = "session.log"
)

// SessionStateEvent is broadcast when a session changes state.
type SessionStateEvent struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id"`
	Unit      string `json:"unit"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	PRURL     string `json:"pr_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SessionLogEvent is broadcast for each streamed log line.
type SessionLogEvent struct {
	SessionID string `json:"session_id"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	Line      string `json:"line"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   json.RawMessage(data),
	})
}

// Bridge subscribes the hub to session lifecycle and log subjects on the
// message queue and rebroadcasts them to connected clients. The returned
// function cancels both subscriptions.
func (h *Hub) Bridge(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	cancelSessions, err := queue.Subscribe(ctx, "sessions.>", func(subject string, data []byte) error {
		var payload messagequeue.SessionEventPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		h.BroadcastEvent(ctx, EventSessionState, payload.SessionID, SessionStateEvent{
			SessionID: payload.SessionID,
			TargetID:  payload.TargetID,
			Unit:      payload.Unit,
			State:     payload.State,
			Reason:    payload.Reason,
			PRURL:     payload.PRURL,
			Error:     payload.Error,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	cancelLogs, err := queue.Subscribe(ctx, messagequeue.SubjectLogLine, func(_ string, data []byte) error {
		var payload messagequeue.LogLinePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		h.BroadcastEvent(ctx, EventSessionLog, payload.SessionID, SessionLogEvent{
			SessionID: payload.SessionID,
			Stream:    payload.Stream,
			Line:      payload.Text,
		})
		return nil
	})
	if err != nil {
		cancelSessions()
		return nil, err
	}

	return func() {
		cancelSessions()
		cancelLogs()
	}, nil
}
