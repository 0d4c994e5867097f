// Package pipeline runs the per-recipient delivery pipeline: hook
// resolution, webhook dispatch and outcome logging.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mailhook/mailhook/internal/dispatch"
	"github.com/mailhook/mailhook/internal/email"
	"github.com/mailhook/mailhook/internal/hook"
)

// Deliverer performs one webhook delivery. Implemented by
// dispatch.Dispatcher; faked in tests.
type Deliverer interface {
	Deliver(ctx context.Context, target dispatch.Target, recipient string, msg *email.Message) dispatch.Outcome
}

// Runner drives the pipeline for individual recipients of a received
// message. Recipients of one transaction may be run concurrently: the
// shared message is read-only and every outcome is an independent log row.
type Runner struct {
	registry  hook.Registry
	log       hook.DeliveryLog
	deliverer Deliverer
	logger    *slog.Logger
}

// NewRunner wires the pipeline against its collaborators.
func NewRunner(registry hook.Registry, log hook.DeliveryLog, deliverer Deliverer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry:  registry,
		log:       log,
		deliverer: deliverer,
		logger:    logger,
	}
}

// Run resolves the recipient's hook and dispatches the message to it,
// recording exactly one delivery attempt regardless of outcome. Failures
// stay local to the recipient and are never surfaced to the SMTP sender.
func (r *Runner) Run(ctx context.Context, recipient string, msg *email.Message) {
	address := strings.ToLower(strings.TrimSpace(recipient))

	h, err := r.registry.FindByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, hook.ErrNotFound) {
			r.record(ctx, hook.DeliveryAttempt{
				HookID:       hook.UnknownHookID,
				FromAddress:  msg.From.Address,
				Subject:      msg.Subject,
				Status:       hook.StatusNotFound,
				ErrorMessage: "no hook configured",
			})
			return
		}
		r.logger.Error("hook lookup failed", "recipient", address, "error", err)
		r.record(ctx, hook.DeliveryAttempt{
			HookID:       hook.UnknownHookID,
			FromAddress:  msg.From.Address,
			Subject:      msg.Subject,
			Status:       hook.StatusError,
			ErrorMessage: "hook lookup failed: " + err.Error(),
		})
		return
	}

	if !h.IsEnabled {
		r.record(ctx, hook.DeliveryAttempt{
			HookID:      h.ID,
			FromAddress: msg.From.Address,
			Subject:     msg.Subject,
			Status:      hook.StatusDisabled,
		})
		return
	}

	outcome := r.deliverer.Deliver(ctx, dispatch.Target{
		URL:    h.WebhookURL,
		Secret: h.WebhookSecret,
	}, address, msg)

	attempt := hook.DeliveryAttempt{
		HookID:         h.ID,
		FromAddress:    msg.From.Address,
		Subject:        msg.Subject,
		Status:         hook.StatusSuccess,
		HTTPStatusCode: outcome.StatusCode,
	}
	if outcome.Err != nil {
		attempt.Status = hook.StatusError
		attempt.ErrorMessage = outcome.Err.Error()
		r.logger.Warn("webhook delivery failed",
			"recipient", address,
			"hook_id", h.ID,
			"error", outcome.Err,
		)
	} else {
		r.logger.Info("webhook delivered",
			"recipient", address,
			"hook_id", h.ID,
			"status_code", derefStatus(outcome.StatusCode),
		)
	}
	r.record(ctx, attempt)
}

// record appends to the delivery log. The log is a best-effort audit
// trail: a failed append is logged and never fails the transaction.
func (r *Runner) record(ctx context.Context, attempt hook.DeliveryAttempt) {
	if err := r.log.Append(ctx, attempt); err != nil {
		r.logger.Error("failed to append delivery attempt",
			"hook_id", attempt.HookID,
			"status", attempt.Status,
			"error", err,
		)
	}
}

func derefStatus(code *int) int {
	if code == nil {
		return 0
	}
	return *code
}
