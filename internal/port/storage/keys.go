package storage

import "fmt"

// Persisted key layout. Dots separate hierarchy levels so the NATS KV
// backend can map keys onto subjects directly.
const (
	TargetPrefix  = "registry.targets."
	QueuePrefix   = "queue."
	SessionPrefix = "session."
	LogPrefix     = "log."
)

// TargetKey returns the registry key for a target.
func TargetKey(targetID string) string {
	return TargetPrefix + targetID
}

// QueueKey returns the admission record key for a target.
func QueueKey(targetID string) string {
	return QueuePrefix + targetID
}

// SessionKey returns the record key for a session.
func SessionKey(sessionID string) string {
	return SessionPrefix + sessionID
}

// LogChunkKey returns the key for one execution log chunk. The zero-padded
// sequence number makes lexicographic key order equal append order.
func LogChunkKey(sessionID, stream string, seq int) string {
	return fmt.Sprintf("%s%s.%s.%08d", LogPrefix, sessionID, stream, seq)
}

// LogStreamPrefix returns the key prefix for one stream of a session's log.
func LogStreamPrefix(sessionID, stream string) string {
	return fmt.Sprintf("%s%s.%s.", LogPrefix, sessionID, stream)
}

// SessionLogPrefix returns the key prefix covering every stream of a session's log.
func SessionLogPrefix(sessionID string) string {
	return LogPrefix + sessionID + "."
}
