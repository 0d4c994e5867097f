// Package parser normalizes raw RFC 5322 messages into the email.Message
// model consumed by the webhook pipeline.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"github.com/mailhook/mailhook/internal/email"
)

// Parse normalizes a raw message. It handles plain text and HTML bodies,
// multipart messages and attachments. Malformed MIME content is a hard
// failure: Parse never returns a partially populated message alongside an
// error, so the caller can abort the whole SMTP transaction.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Message{
		Headers: make(map[string]string),
	}

	// Collapse repeated headers: the last occurrence wins.
	for key, values := range msg.Header {
		if len(values) > 0 {
			result.Headers[key] = values[len(values)-1]
		}
	}

	result.From = parseFrom(msg.Header.Get("From"))
	result.Subject = msg.Header.Get("Subject")

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to parse content type %q: %w", contentType, err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/html":
		result.HTMLBody = string(body)
	default:
		result.TextBody = string(body)
	}

	return result, nil
}

// parseMultipart walks the parts of a multipart body, extracting text/plain
// and text/html bodies and recording attachment metadata in order of
// appearance. Attachment content is decoded only to measure it.
func parseMultipart(body io.Reader, boundary string, result *email.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			return fmt.Errorf("failed to parse part content type %q: %w", partContentType, err)
		}

		// Nested multipart (e.g. multipart/alternative inside multipart/mixed)
		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				return fmt.Errorf("nested multipart missing boundary")
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				return err
			}
			continue
		}

		content, err := readPartContent(part)
		if err != nil {
			return fmt.Errorf("failed to read part content: %w", err)
		}

		contentDisposition := part.Header.Get("Content-Disposition")
		isAttachment := strings.HasPrefix(contentDisposition, "attachment")

		if isAttachment {
			result.Attachments = append(result.Attachments, email.Attachment{
				Filename:    extractFilename(part, params),
				ContentType: mediaType,
				SizeBytes:   len(content),
			})
			continue
		}

		switch mediaType {
		case "text/plain":
			if result.TextBody == "" {
				result.TextBody = string(content)
			}
		case "text/html":
			if result.HTMLBody == "" {
				result.HTMLBody = string(content)
			}
		default:
			// Inline parts with a filename are still attachments.
			if filename := extractFilename(part, params); filename != "" {
				result.Attachments = append(result.Attachments, email.Attachment{
					Filename:    filename,
					ContentType: mediaType,
					SizeBytes:   len(content),
				})
			}
		}
	}

	return nil
}

// readPartContent reads and decodes the content of a MIME part so the
// recorded attachment size reflects decoded bytes, not wire bytes.
func readPartContent(part *multipart.Part) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(part.Header.Get("Content-Transfer-Encoding")))

	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	default:
		// "7bit", "8bit", "binary", "quoted-printable" or empty: the
		// multipart reader already decodes quoted-printable.
		return raw, nil
	}
}

// extractFilename pulls the filename from Content-Disposition or the
// Content-Type "name" parameter.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	return ""
}

// parseFrom splits a From header into address and display name. A header
// that does not parse as RFC 5322 is kept verbatim as the address so the
// sender is never silently lost.
func parseFrom(raw string) email.Address {
	if raw == "" {
		return email.Address{}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return email.Address{Address: strings.TrimSpace(raw)}
	}
	return email.Address{Address: addr.Address, Name: addr.Name}
}
