package detection

import "time"

// QueueEntry is the durable record keeping a detection in the sync backlog.
// It is created when a detection becomes unsynced and removed only when the
// remote store acknowledges delivery.
type QueueEntry struct {
	DetectionID   string    `json:"detectionId"`
	Seq           uint64    `json:"seq"` // FIFO order key
	AttemptCount  int       `json:"attemptCount"`
	LastError     string    `json:"lastError,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
}
