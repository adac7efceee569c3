package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sprintpilot/sprintpilot/internal/port/messagequeue"
	"github.com/sprintpilot/sprintpilot/internal/port/sandbox"
	"github.com/sprintpilot/sprintpilot/internal/port/storage"
)

// ExecLogService persists execution output chunks under sequence-numbered
// keys and fans each line out on the event bus for live tailing. One
// instance serves all sessions; per-session sequence counters live in
// memory and are reseeded from storage after a restart.
type ExecLogService struct {
	store storage.Store
	queue messagequeue.Queue // optional; nil disables fanout

	mu   sync.Mutex
	next map[string]int // "<session>.<stream>" -> next sequence number
}

// NewExecLogService creates a new ExecLogService. queue may be nil.
func NewExecLogService(store storage.Store, queue messagequeue.Queue) *ExecLogService {
	return &ExecLogService{
		store: store,
		queue: queue,
		next:  make(map[string]int),
	}
}

// Append persists one output chunk and publishes it as a log line.
func (s *ExecLogService) Append(ctx context.Context, sessionID string, chunk sandbox.Chunk) error {
	seq, err := s.nextSeq(ctx, sessionID, chunk.Stream)
	if err != nil {
		return err
	}

	key := storage.LogChunkKey(sessionID, chunk.Stream, seq)
	if err := s.store.Put(ctx, key, []byte(chunk.Text)); err != nil {
		return fmt.Errorf("append log chunk: %w", err)
	}

	if s.queue != nil {
		payload, err := json.Marshal(messagequeue.LogLinePayload{
			SessionID: sessionID,
			Stream:    chunk.Stream,
			Text:      chunk.Text,
		})
		if err == nil {
			if err := s.queue.Publish(ctx, messagequeue.SubjectLogLine, payload); err != nil {
				slog.Debug("log line publish failed", "session_id", sessionID, "error", err)
			}
		}
	}
	return nil
}

// Read returns the full log of one stream in append order.
func (s *ExecLogService) Read(ctx context.Context, sessionID, stream string) ([]string, error) {
	keys, err := s.store.Keys(ctx, storage.LogStreamPrefix(sessionID, stream))
	if err != nil {
		return nil, fmt.Errorf("list log chunks: %w", err)
	}

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		data, _, found, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read log chunk: %w", err)
		}
		if found {
			lines = append(lines, string(data))
		}
	}
	return lines, nil
}

// Tail returns the last n chunks of one stream.
func (s *ExecLogService) Tail(ctx context.Context, sessionID, stream string, n int) ([]string, error) {
	lines, err := s.Read(ctx, sessionID, stream)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Text returns the stdout log of a session joined into one string. This is
// the detector's input after a restart; during a live run the session
// service keeps its own in-memory buffer.
func (s *ExecLogService) Text(ctx context.Context, sessionID string) (string, error) {
	lines, err := s.Read(ctx, sessionID, "stdout")
	if err != nil {
		return "", err
	}
	out := ""
	for _, line := range lines {
		out += line
		if len(line) == 0 || line[len(line)-1] != '\n' {
			out += "\n"
		}
	}
	return out, nil
}

// nextSeq hands out the next sequence number for a stream, reseeding the
// counter from storage the first time a stream is seen.
func (s *ExecLogService) nextSeq(ctx context.Context, sessionID, stream string) (int, error) {
	counterKey := sessionID + "." + stream

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.next[counterKey]; !ok {
		keys, err := s.store.Keys(ctx, storage.LogStreamPrefix(sessionID, stream))
		if err != nil {
			return 0, fmt.Errorf("seed log counter: %w", err)
		}
		s.next[counterKey] = len(keys)
	}

	seq := s.next[counterKey]
	s.next[counterKey] = seq + 1
	return seq, nil
}
