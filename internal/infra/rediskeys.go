package infra

import "fmt"

const (
	// RedisNamespace isolates this project's keys and channels.
	RedisNamespace = "cui"
)

// Pub/Sub channels (events)
const (
	// RedisChanMediationEvents broadcasts request_created/request_decided
	// lifecycle events to UI sessions. Best-effort: UI polling over HTTP
	// stays correct without it.
	RedisChanMediationEvents = RedisNamespace + ":mediation:events"

	// RedisChanLiveStatus carries the streaming live-status feed keyed by
	// correlationId, consumed by the live correlator.
	RedisChanLiveStatus = RedisNamespace + ":live:status"
)

// MediationDecisionChannel is the per-run channel a decision signal is
// published to, so a UI session can watch a single agent run.
func MediationDecisionChannel(correlationID string) string {
	return fmt.Sprintf("%s:mediation:decided:%s", RedisNamespace, correlationID)
}
