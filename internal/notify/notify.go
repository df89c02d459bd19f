// Package notify implements the optional job-completion notifier (A6): a
// thin NATS publisher that is non-fatal to construct or use, since
// notification is a supplemental signal, never load-bearing for the core.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.nodeforge.dev/vault/snapguard/internal/logfields"
)

// Event is published after a snapshot job completes.
type Event struct {
	JobID          string    `json:"job_id"`
	Source         string    `json:"source"`
	Repository     string    `json:"repository"`
	Kind           string    `json:"kind,omitempty"`
	Outcome        string    `json:"outcome"`
	BackupName     string    `json:"backup_name,omitempty"`
	FilesBackedUp  int       `json:"files_backed_up,omitempty"`
	BytesProcessed int64     `json:"bytes_processed,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Notifier publishes Events to a NATS subject. A nil *Notifier or a
// disconnected connection makes every method a no-op; notification never
// blocks or fails a snapshot job.
type Notifier struct {
	subject string
	mu      sync.RWMutex
	conn    *nats.Conn
}

// New connects to url and returns a Notifier that publishes to subject.
// Connection failure is returned but the caller may choose to ignore it
// and run without notifications — this is purely a supplemental signal.
func New(url, subject string) (*Notifier, error) {
	n := &Notifier{subject: subject}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("notifier disconnected from NATS", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("notifier reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return n, err
	}
	n.conn = conn
	return n, nil
}

// Publish sends ev on the notifier's subject. Any failure (including a nil
// receiver or a never-connected client) is logged and swallowed.
func (n *Notifier) Publish(ev Event) {
	if n == nil {
		return
	}
	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to marshal notification event", logfields.Error(err))
		return
	}
	if err := conn.Publish(n.subject, data); err != nil {
		slog.Warn("failed to publish notification event", logfields.Error(err))
	}
}

// Close drains and closes the underlying connection, if any.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}
