package screening

import "sync"

// NotificationKind classifies a user-visible notification.
type NotificationKind string

// NotifyDestructive marks a failure the user should act on.
const NotifyDestructive NotificationKind = "destructive"

// Notification is a non-blocking message for the user.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
}

// Notifier receives notifications emitted by the workflow. Rendering is the caller's concern.
type Notifier interface {
	Notify(n Notification)
}

// NotificationQueue buffers notifications until drained.
type NotificationQueue struct {
	mu    sync.Mutex
	items []Notification
}

func (q *NotificationQueue) Notify(n Notification) {
	q.mu.Lock()
	q.items = append(q.items, n)
	q.mu.Unlock()
}

// Drain returns and removes every queued notification.
func (q *NotificationQueue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
