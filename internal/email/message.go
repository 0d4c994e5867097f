// Package email defines the normalized message model shared by the
// SMTP receiver and the webhook dispatch pipeline.
package email

// Address is a parsed mailbox with an optional display name.
type Address struct {
	Address string
	Name    string
}

// Message is a normalized email. It is built once per SMTP transaction
// and must not be mutated afterwards: all per-recipient dispatches of a
// transaction share the same instance.
type Message struct {
	From     Address
	Subject  string
	TextBody string
	HTMLBody string

	// Headers holds one value per header name. When a header occurs
	// multiple times the last occurrence wins.
	Headers map[string]string

	// Attachments carries metadata only; content bytes are dropped
	// during normalization and never reach the webhook payload.
	Attachments []Attachment
}

// Attachment describes an attachment without its content.
type Attachment struct {
	Filename    string
	ContentType string
	SizeBytes   int
}
