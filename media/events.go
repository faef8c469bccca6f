package media

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle notification.
type EventType string

const (
	EventStreamStarted     EventType = "stream_started"
	EventStreamStopped     EventType = "stream_stopped"
	EventStreamErrored     EventType = "stream_errored"
	EventRecordingFinished EventType = "recording_finished"
	EventRecordingErrored  EventType = "recording_errored"
)

// Event is one lifecycle notification. Events are emitted after the
// corresponding state transition is recorded, so an observer never sees
// an event ahead of the queryable state.
type Event struct {
	EventID    string    `json:"eventId"`
	Type       EventType `json:"type"`
	ID         string    `json:"id"` // stream or recording id
	SourceURI  string    `json:"sourceUri"`
	OutputPath string    `json:"outputPath,omitempty"`
	ExitCode   int       `json:"exitCode"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier delivers lifecycle events to subscribers over dedicated
// buffered channels. Delivery is best-effort: a subscriber that falls
// more than eventBuffer events behind misses further events rather than
// blocking the supervisor.
type Notifier struct {
	mu     sync.Mutex
	subs   map[string]chan Event
	closed bool
}

const eventBuffer = 32

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its token and channel.
// The channel is closed on Unsubscribe or when the notifier shuts down.
func (n *Notifier) Subscribe() (string, <-chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	token := uuid.NewString()
	ch := make(chan Event, eventBuffer)
	if n.closed {
		close(ch)
		return token, ch
	}
	n.subs[token] = ch
	return token, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown tokens
// are a no-op.
func (n *Notifier) Unsubscribe(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subs[token]; ok {
		delete(n.subs, token)
		close(ch)
	}
}

// publish fans an event out to every subscriber.
func (n *Notifier) publish(ev Event) {
	ev.EventID = uuid.NewString()
	ev.At = time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	for token, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[Notifier] Subscriber %s is not keeping up, dropping %s event for %s", token, ev.Type, ev.ID)
		}
	}
}

// close shuts the notifier down and closes all subscriber channels.
func (n *Notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for token, ch := range n.subs {
		delete(n.subs, token)
		close(ch)
	}
}
