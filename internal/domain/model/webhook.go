package model

import "time"

// Webhook event names emitted on terminal job transitions.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// KnownEvents lists the event names a subscription may select.
var KnownEvents = []string{EventJobCompleted, EventJobFailed}

// WebhookSubscription is read-only to the orchestrator and consumed by the
// notification dispatcher.
type WebhookSubscription struct {
	ID        string
	URL       string
	Events    []string
	Secret    string // shared secret for HMAC payload signing
	CreatedAt time.Time
}

// Wants reports whether the subscription selected the given event.
func (s *WebhookSubscription) Wants(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookEvent is an outbox row. Sequence is assigned by the store and is
// monotonic, letting receivers de-duplicate by (job_id, sequence). Delivery
// is at-least-once: after MaxAttempts failed tries the event is dropped and
// logged, never affecting the job's terminal state.
type WebhookEvent struct {
	ID          string // ulid, sortable
	Sequence    int64
	JobID       string
	Event       string
	Payload     []byte // JSON `data` object
	Attempts    int
	LastError   string
	NextRunAt   time.Time
	DeliveredAt *time.Time
	Dropped     bool
	CreatedAt   time.Time
}
