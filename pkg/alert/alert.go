package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/importer"
)

// Notification reports a finished import run.
type Notification struct {
	Title    string                `json:"title"`
	Body     string                `json:"body"`
	RunID    string                `json:"run_id"`
	Summary  importer.Summary      `json:"summary"`
	Added    []importer.ItemResult `json:"added"`
	Failed   []importer.ItemResult `json:"failed"`
	Finished time.Time             `json:"finished_at"`
}

// FromBatch builds a notification for an import run.
func FromBatch(title string, b *importer.BatchResult) *Notification {
	n := &Notification{
		Title:    title,
		Body:     fmt.Sprintf("added %d, skipped %d, failed %d", b.Summary.Added, b.Summary.Skipped, b.Summary.Failed),
		RunID:    b.RunID,
		Summary:  b.Summary,
		Finished: time.Now().UTC(),
	}
	for _, d := range b.Details {
		switch d.Status {
		case importer.StatusAdded:
			n.Added = append(n.Added, d)
		case importer.StatusFailed:
			n.Failed = append(n.Failed, d)
		}
	}
	return n
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
