package testkit

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"engageflow/apperr"
	"engageflow/event"
)

type Notifier struct {
	mu      sync.Mutex
	Notices []event.Notice
	// FailFor makes Notify fail for the listed kinds.
	FailFor map[string]error
}

func (n *Notifier) Notify(_ context.Context, notice event.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.FailFor[notice.Kind]; err != nil {
		return err
	}
	n.Notices = append(n.Notices, notice)
	return nil
}

func (n *Notifier) For(userID string) []event.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event.Notice
	for _, notice := range n.Notices {
		if notice.UserID == userID {
			out = append(out, notice)
		}
	}
	return out
}

func (n *Notifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Notices))
	for _, notice := range n.Notices {
		out = append(out, notice.Kind)
	}
	return out
}

type SentEmail struct {
	Address  string
	Template string
	Vars     map[string]string
}

type Mailer struct {
	mu   sync.Mutex
	Sent []SentEmail
	Err  error
}

func (m *Mailer) SendTemplate(_ context.Context, address, template string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentEmail{Address: address, Template: template, Vars: vars})
	return nil
}

func (m *Mailer) Templates() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, e := range m.Sent {
		out[e.Template]++
	}
	return out
}

// Directory resolves addresses from Store.Emails.
type Directory struct{ s *Store }

func NewDirectory(s *Store) *Directory {
	return &Directory{s: s}
}

func (d *Directory) EmailAddress(_ context.Context, userID string) (string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	email, ok := d.s.Emails[userID]
	if !ok {
		return "", apperr.NotFound("user", userID)
	}
	return email, nil
}

type Outbox struct {
	mu     sync.Mutex
	Events []event.Event
	Err    error
}

func (o *Outbox) Enqueue(_ context.Context, _ pgx.Tx, evt event.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.Events = append(o.Events, evt)
	return nil
}

func (o *Outbox) Types() []event.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]event.Type, 0, len(o.Events))
	for _, e := range o.Events {
		out = append(out, e.Type)
	}
	return out
}

func (o *Outbox) Count(t event.Type) int {
	n := 0
	for _, got := range o.Types() {
		if got == t {
			n++
		}
	}
	return n
}
