package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailhook/mailhook/internal/dispatch"
	"github.com/mailhook/mailhook/internal/email"
	"github.com/mailhook/mailhook/internal/hook"
)

type fakeRegistry struct {
	hooks map[string]hook.Hook
	err   error
}

func (f *fakeRegistry) FindByEmail(_ context.Context, address string) (*hook.Hook, error) {
	if f.err != nil {
		return nil, f.err
	}
	h, ok := f.hooks[address]
	if !ok {
		return nil, hook.ErrNotFound
	}
	return &h, nil
}

type fakeLog struct {
	attempts []hook.DeliveryAttempt
	err      error
}

func (f *fakeLog) Append(_ context.Context, attempt hook.DeliveryAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return f.err
}

type fakeDeliverer struct {
	outcome dispatch.Outcome
	calls   int
	target  dispatch.Target
	rcpt    string
}

func (f *fakeDeliverer) Deliver(_ context.Context, target dispatch.Target, recipient string, _ *email.Message) dispatch.Outcome {
	f.calls++
	f.target = target
	f.rcpt = recipient
	return f.outcome
}

func message() *email.Message {
	return &email.Message{
		From:    email.Address{Address: "alice@example.com"},
		Subject: "Test",
	}
}

func TestRun_NoHookRecordsNotFound(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{}}
	log := &fakeLog{}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "nobody@mailhook.local", message())

	require.Len(t, log.attempts, 1)
	attempt := log.attempts[0]
	assert.Equal(t, hook.UnknownHookID, attempt.HookID)
	assert.Equal(t, hook.StatusNotFound, attempt.Status)
	assert.Equal(t, "no hook configured", attempt.ErrorMessage)
	assert.Equal(t, "alice@example.com", attempt.FromAddress)
	assert.Zero(t, deliverer.calls, "no HTTP call for missing hooks")
}

func TestRun_DisabledHookSkipsDispatch(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{
		"a@mailhook.local": {ID: "h1", Email: "a@mailhook.local", WebhookURL: "http://x", IsEnabled: false},
	}}
	log := &fakeLog{}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "a@mailhook.local", message())

	require.Len(t, log.attempts, 1)
	assert.Equal(t, "h1", log.attempts[0].HookID)
	assert.Equal(t, hook.StatusDisabled, log.attempts[0].Status)
	assert.Zero(t, deliverer.calls, "no HTTP call for disabled hooks")
}

func TestRun_LowercasesRecipientForLookup(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{
		"a@mailhook.local": {ID: "h1", Email: "a@mailhook.local", WebhookURL: "http://x", WebhookSecret: "s1", IsEnabled: true},
	}}
	log := &fakeLog{}
	code := http.StatusOK
	deliverer := &fakeDeliverer{outcome: dispatch.Outcome{StatusCode: &code}}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "A@MailHook.LOCAL", message())

	require.Equal(t, 1, deliverer.calls)
	assert.Equal(t, "a@mailhook.local", deliverer.rcpt)
	assert.Equal(t, dispatch.Target{URL: "http://x", Secret: "s1"}, deliverer.target)
	require.Len(t, log.attempts, 1)
	assert.Equal(t, hook.StatusSuccess, log.attempts[0].Status)
	require.NotNil(t, log.attempts[0].HTTPStatusCode)
	assert.Equal(t, http.StatusOK, *log.attempts[0].HTTPStatusCode)
}

func TestRun_DeliveryErrorRecorded(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{
		"a@mailhook.local": {ID: "h1", Email: "a@mailhook.local", WebhookURL: "http://x", IsEnabled: true},
	}}
	log := &fakeLog{}
	code := http.StatusBadGateway
	deliverer := &fakeDeliverer{outcome: dispatch.Outcome{
		StatusCode: &code,
		Err:        errors.New("webhook returned HTTP 502"),
	}}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "a@mailhook.local", message())

	require.Len(t, log.attempts, 1)
	attempt := log.attempts[0]
	assert.Equal(t, hook.StatusError, attempt.Status)
	assert.NotEmpty(t, attempt.ErrorMessage)
	require.NotNil(t, attempt.HTTPStatusCode)
	assert.Equal(t, http.StatusBadGateway, *attempt.HTTPStatusCode)
}

func TestRun_TimeoutErrorHasNoStatusCode(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{
		"a@mailhook.local": {ID: "h1", Email: "a@mailhook.local", WebhookURL: "http://x", IsEnabled: true},
	}}
	log := &fakeLog{}
	deliverer := &fakeDeliverer{outcome: dispatch.Outcome{Err: errors.New("context deadline exceeded")}}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "a@mailhook.local", message())

	require.Len(t, log.attempts, 1)
	assert.Equal(t, hook.StatusError, log.attempts[0].Status)
	assert.NotEmpty(t, log.attempts[0].ErrorMessage)
	assert.Nil(t, log.attempts[0].HTTPStatusCode)
}

func TestRun_RegistryFailureStillRecordsOneAttempt(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{err: errors.New("connection refused")}
	log := &fakeLog{}
	deliverer := &fakeDeliverer{}
	runner := NewRunner(registry, log, deliverer, nil)

	runner.Run(context.Background(), "a@mailhook.local", message())

	require.Len(t, log.attempts, 1)
	assert.Equal(t, hook.UnknownHookID, log.attempts[0].HookID)
	assert.Equal(t, hook.StatusError, log.attempts[0].Status)
	assert.Zero(t, deliverer.calls)
}

func TestRun_LogFailureDoesNotPanic(t *testing.T) {
	t.Parallel()

	registry := &fakeRegistry{hooks: map[string]hook.Hook{}}
	log := &fakeLog{err: errors.New("disk full")}
	runner := NewRunner(registry, log, &fakeDeliverer{}, nil)

	// The outcome log is best-effort; a failed append must be swallowed.
	runner.Run(context.Background(), "a@mailhook.local", message())
	require.Len(t, log.attempts, 1)
}
