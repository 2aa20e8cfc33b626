package store

import "time"

// Snapshot represents the progress of a tracker in storage.
//
// Snapshot is optimized for JSON serialization (used by the REST API and
// SSE). It is decoupled from the tracker's own types to allow independent
// evolution.
type Snapshot struct {
	// Name is the tracker's name.
	Name string `json:"name"`

	// URL is the status endpoint being polled.
	URL string `json:"url"`

	// Value is the current progress value.
	Value int `json:"value"`

	// Max is the total number of steps.
	Max int `json:"max"`

	// Percent is the completion percentage, e.g. "30%".
	Percent string `json:"percent"`

	// Status is the last status text, nil if the last response had none.
	Status *string `json:"status"`

	// FailCount is the number of consecutive failed polls.
	FailCount int `json:"fail_count"`

	// Completed reports whether the tracker has finished.
	Completed bool `json:"completed"`

	// Reason is the completion reason, empty while running.
	Reason string `json:"reason,omitempty"`

	// UpdatedAt is when the progress last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for storing and subscribing to progress updates.
//
// Store implementations must be safe for concurrent access. The pub/sub
// mechanism allows real-time updates to be pushed to connected clients
// (e.g., via Server-Sent Events).
type Store interface {
	// Update replaces the stored snapshot and notifies all subscribers.
	Update(snapshot Snapshot)

	// Latest returns the stored snapshot and whether one has been stored yet.
	Latest() (Snapshot, bool)

	// Subscribe returns a channel that receives snapshot updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Snapshot

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Snapshot)
}
