// Package events is the broker fabric between the detection edge and the
// backend: one JetStream stream per queue, typed JSON payloads, explicit-ack
// consumers, and bounded drop-oldest publish channels for the lossy queues.
package events

import (
	"strings"
	"time"
)

// Queue names. Overridable through the persisted config; these are the
// defaults every deployment uses.
const (
	SuspicionFrameQueue      = "SUSPICION_FRAME_QUEUE"
	RecordingStatusQueue     = "RECORDING_STATUS_QUEUE"
	ResponseQueue            = "RESPONSE_QUEUE"
	FrameQueue               = "FRAME_QUEUE"
	CloudProviderConfigQueue = "CLOUD_PROVIDER_CONFIG_QUEUE"
	SuspicionConfigQueue     = "SUSPICION_CONFIG_QUEUE"
)

// Default TTLs for the lossy queues. A stale frame or score is worthless, so
// the stream ages messages out almost immediately.
const (
	DefaultFrameTTL     = 100 * time.Millisecond
	DefaultSuspicionTTL = 100 * time.Millisecond
	DefaultResponseTTL  = time.Second
)

// QueueSpec declares one durable queue. TTL zero means messages never age
// out (control queues).
type QueueSpec struct {
	Name string
	TTL  time.Duration
}

// Subject is the NATS subject for a queue: the lowercased queue name.
func (q QueueSpec) Subject() string {
	return Subject(q.Name)
}

func Subject(queue string) string {
	return strings.ToLower(queue)
}

// EdgeQueues returns the full queue set with the given lossy TTLs, declared
// by whichever process connects first.
func EdgeQueues(frameTTL, suspicionTTL, responseTTL time.Duration) []QueueSpec {
	if frameTTL <= 0 {
		frameTTL = DefaultFrameTTL
	}
	if suspicionTTL <= 0 {
		suspicionTTL = DefaultSuspicionTTL
	}
	if responseTTL <= 0 {
		responseTTL = DefaultResponseTTL
	}
	return []QueueSpec{
		{Name: SuspicionFrameQueue, TTL: suspicionTTL},
		{Name: RecordingStatusQueue},
		{Name: ResponseQueue, TTL: responseTTL},
		{Name: FrameQueue, TTL: frameTTL},
		{Name: CloudProviderConfigQueue},
		{Name: SuspicionConfigQueue},
	}
}
