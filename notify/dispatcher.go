// Package notify sends a customer SMS when a job reaches a notify-worthy
// status, at most once per distinct status value. Delivery is best effort:
// a failed send is logged and the marker left untouched, so a later write
// can retry, but nothing schedules one.
package notify

import (
	"context"
	"fmt"
	"log"

	"roadflow/job"
)

// Sender delivers a pre-formatted SMS. Failure is non-fatal to the status
// transition that triggered it.
type Sender interface {
	Send(ctx context.Context, toPhone, text string) error
}

// LogSender is a development stand-in that logs instead of sending.
type LogSender struct{}

func (LogSender) Send(_ context.Context, toPhone, text string) error {
	log.Printf("notify: sms to %s: %s", toPhone, text)
	return nil
}

// MarkerStore records which status was last successfully notified.
type MarkerStore interface {
	SetLastNotified(ctx context.Context, jobID string, status job.Status) error
}

// Dispatcher reacts to committed job status changes.
type Dispatcher struct {
	sender  Sender
	markers MarkerStore
}

func NewDispatcher(sender Sender, markers MarkerStore) *Dispatcher {
	return &Dispatcher{sender: sender, markers: markers}
}

// JobStatusChanged sends the SMS for the job's new status if it is in the
// notify set and was not already notified. The marker is advanced only
// after the sender confirms success.
func (d *Dispatcher) JobStatusChanged(ctx context.Context, j job.Job) {
	if !job.Notifiable(j.Status) {
		return
	}
	if j.LastNotifiedStatus != nil && *j.LastNotifiedStatus == j.Status {
		return
	}
	if j.ContactPhone == nil || *j.ContactPhone == "" {
		log.Printf("notify: job %s has no contact phone, skipping %s notification", j.ID, j.Status)
		return
	}

	if err := d.sender.Send(ctx, *j.ContactPhone, MessageFor(j)); err != nil {
		log.Printf("notify: send failed for job %s status %s: %v", j.ID, j.Status, err)
		return
	}

	if err := d.markers.SetLastNotified(ctx, j.ID, j.Status); err != nil {
		log.Printf("notify: record marker for job %s: %v", j.ID, err)
	}
}

// MessageFor formats the customer-facing text for a status.
func MessageFor(j job.Job) string {
	switch j.Status {
	case job.StatusAssigned:
		return fmt.Sprintf("A technician has been assigned to your %s request.", j.IssueKind)
	case job.StatusEnroute:
		return fmt.Sprintf("Your technician is on the way for your %s request.", j.IssueKind)
	case job.StatusOnSite:
		return fmt.Sprintf("Your technician has arrived for your %s request.", j.IssueKind)
	case job.StatusInProgress:
		return fmt.Sprintf("Work on your %s request is in progress.", j.IssueKind)
	case job.StatusCompleted:
		return fmt.Sprintf("Your %s request is complete. Thank you!", j.IssueKind)
	default:
		return fmt.Sprintf("Update on your %s request: %s.", j.IssueKind, j.Status)
	}
}
