// Package hook defines the domain model for webhook registrations and
// delivery outcomes, plus the ports the pipeline depends on.
package hook

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Registry implementations when no hook is
// registered for an address.
var ErrNotFound = errors.New("hook not found")

// Delivery attempt statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusDisabled = "disabled"
	StatusNotFound = "not_found"
)

// UnknownHookID is recorded when no hook exists for a recipient.
const UnknownHookID = "unknown"

// Hook maps one email address to one webhook delivery target.
type Hook struct {
	ID            string
	Email         string // unique key, stored lowercase
	WebhookURL    string
	WebhookSecret string // empty means deliveries are unsigned
	IsEnabled     bool
}

// DeliveryAttempt is the write-once outcome of notifying a webhook for
// one recipient of one received message.
type DeliveryAttempt struct {
	HookID         string
	FromAddress    string
	Subject        string
	Status         string
	HTTPStatusCode *int
	ErrorMessage   string
}

// Domain is a mail domain this instance can accept mail for. Only
// verified domains join the allow-set.
type Domain struct {
	ID       string
	Name     string // stored lowercase
	Verified bool
}

// LoggedAttempt is a DeliveryAttempt as read back from the outcome log.
type LoggedAttempt struct {
	DeliveryAttempt
	ID        string
	CreatedAt time.Time
}

// Registry resolves recipient addresses to hook records. Lookups are by
// lowercase address; the pipeline has no write access.
type Registry interface {
	FindByEmail(ctx context.Context, address string) (*Hook, error)
}

// DeliveryLog is the append-only audit trail of delivery attempts.
// Appends are best-effort from the pipeline's perspective.
type DeliveryLog interface {
	Append(ctx context.Context, attempt DeliveryAttempt) error
}

// DomainPolicy reports the mail domains this instance accepts RCPT TO
// for: static configuration plus any verified custom domains.
type DomainPolicy interface {
	AllowedDomains(ctx context.Context) ([]string, error)
}
