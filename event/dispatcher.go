package event

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"engageflow/logger"
	"engageflow/metrics"
)

const emailConcurrency = 4

// Dispatcher delivers the notices and emails of committed events in event
// order. Email is always best-effort. A notification failure stops dispatch
// at that event and is returned unless the dispatcher is configured
// best-effort; emails of the events before it are still sent.
type Dispatcher struct {
	notifier   Notifier
	mailer     Mailer
	directory  Directory
	log        logger.Logger
	bestEffort bool
}

func NewDispatcher(notifier Notifier, mailer Mailer, directory Directory, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Dispatcher{notifier: notifier, mailer: mailer, directory: directory, log: log}
}

func (d *Dispatcher) WithBestEffortNotifications(enabled bool) *Dispatcher {
	d.bestEffort = enabled
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) error {
	startedAt := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(startedAt).Seconds()) }()

	var emails []Email
	for _, evt := range events {
		metrics.EventsDispatched.WithLabelValues(string(evt.Type)).Inc()
		for _, n := range evt.Notices {
			if err := d.notify(ctx, evt, n); err != nil {
				d.sendEmails(ctx, emails)
				return err
			}
		}
		emails = append(emails, evt.Emails...)
	}
	d.sendEmails(ctx, emails)
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, evt Event, n Notice) error {
	if d.notifier == nil {
		return nil
	}
	err := d.notifier.Notify(ctx, n)
	if err == nil {
		return nil
	}
	metrics.SideEffectFailures.WithLabelValues("notification").Inc()
	if !d.bestEffort {
		return fmt.Errorf("event: notify %s for %s: %w", n.UserID, evt.Type, err)
	}
	d.log.WithError(err).Warn("notification failed", map[string]interface{}{
		"event":   string(evt.Type),
		"user_id": n.UserID,
		"kind":    n.Kind,
	})
	return nil
}

func (d *Dispatcher) sendEmails(ctx context.Context, emails []Email) {
	if d.mailer == nil || d.directory == nil || len(emails) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(emailConcurrency)
	for _, e := range emails {
		e := e
		g.Go(func() error {
			d.sendEmail(gctx, e)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) sendEmail(ctx context.Context, e Email) {
	fields := map[string]interface{}{"user_id": e.UserID, "template": e.Template}
	address, err := d.directory.EmailAddress(ctx, e.UserID)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("email_lookup").Inc()
		d.log.WithError(err).Warn("email address lookup failed", fields)
		return
	}
	if address == "" {
		return
	}
	if err := d.mailer.SendTemplate(ctx, address, e.Template, e.Vars); err != nil {
		metrics.SideEffectFailures.WithLabelValues("email").Inc()
		d.log.WithError(err).Warn("email send failed", fields)
	}
}
