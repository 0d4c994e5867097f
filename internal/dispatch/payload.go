package dispatch

import (
	"encoding/json"

	"github.com/mailhook/mailhook/internal/email"
)

// payload is the wire format delivered to webhook receivers. Field names
// are part of the receiver contract and must not change.
type payload struct {
	From        payloadAddress      `json:"from"`
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Headers     map[string]string   `json:"headers"`
	Attachments []payloadAttachment `json:"attachments"`
}

type payloadAddress struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// payloadAttachment carries metadata only. Content bytes are deliberately
// never transmitted: this bounds payload size and avoids leaking
// attachment content by default.
type payloadAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int    `json:"sizeBytes"`
}

// EncodePayload serializes the webhook body for one recipient. The exact
// byte sequence returned here is what gets signed and POSTed.
func EncodePayload(msg *email.Message, recipient string) ([]byte, error) {
	p := payload{
		From: payloadAddress{
			Address: msg.From.Address,
			Name:    msg.From.Name,
		},
		To:          recipient,
		Subject:     msg.Subject,
		Text:        msg.TextBody,
		HTML:        msg.HTMLBody,
		Headers:     msg.Headers,
		Attachments: make([]payloadAttachment, 0, len(msg.Attachments)),
	}
	for _, att := range msg.Attachments {
		p.Attachments = append(p.Attachments, payloadAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeBytes:   att.SizeBytes,
		})
	}
	return json.Marshal(p)
}
